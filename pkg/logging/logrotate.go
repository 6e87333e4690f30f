package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for fold %s
# Install: sudo cp this file to /etc/logrotate.d/fold-%s

/var/log/fold/%s/*.log {
    daily
    rotate 14
    compress
    delaycompress
    missingok
    notifempty
    create 0644 fold fold
    copytruncate
}
`, component, component, component)
}
