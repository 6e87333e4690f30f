package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/fold-orchestrator/pkg/auth"
	"github.com/psantana5/fold-orchestrator/pkg/logging"
	tlsutil "github.com/psantana5/fold-orchestrator/pkg/tls"
)

var (
	certFile string
	keyFile  string
	certCN   string
	certDays int
	certHost []string
	keyName  string
)

var gencertCmd = &cobra.Command{
	Use:   "gencert",
	Short: "Generate a self-signed TLS certificate for the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		validFor := time.Duration(certDays) * 24 * time.Hour
		if err := tlsutil.GenerateSelfSignedCert(certFile, keyFile, certCN, validFor, certHost...); err != nil {
			return fmt.Errorf("failed to generate certificate: %w", err)
		}
		fmt.Printf("Certificate written to %s\n", certFile)
		fmt.Printf("Private key written to %s\n", keyFile)
		return nil
	},
}

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate an API key and its config entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Printf("API key (shown once): %s\n\n", key)
		fmt.Println("Add to the validator config:")
		fmt.Println("api:")
		fmt.Println("  keys:")
		fmt.Printf("    %s: %q\n", keyName, hash)
		return nil
	},
}

var logrotateCmd = &cobra.Command{
	Use:   "logrotate",
	Short: "Print a logrotate configuration for the validator logs",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(os.Stdout, logging.GenerateLogrotateConfig("validator"))
	},
}

func init() {
	gencertCmd.Flags().StringVar(&certFile, "cert", "certs/validator.crt", "certificate output path")
	gencertCmd.Flags().StringVar(&keyFile, "key", "certs/validator.key", "private key output path")
	gencertCmd.Flags().StringVar(&certCN, "cn", "fold-validator", "certificate common name")
	gencertCmd.Flags().IntVar(&certDays, "days", 365, "validity in days")
	gencertCmd.Flags().StringSliceVar(&certHost, "host", []string{"localhost", "127.0.0.1"}, "DNS names or IPs to include")

	apikeyCmd.Flags().StringVar(&keyName, "name", "operator", "key name recorded in logs")

	rootCmd.AddCommand(gencertCmd, apikeyCmd, logrotateCmd)
}
