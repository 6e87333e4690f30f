package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	tlsutil "github.com/psantana5/fold-orchestrator/pkg/tls"
)

var (
	apiURL       string
	outputFormat string
	cfgFile      string
	apiKey       string
	caFile       string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "foldctl",
	Short:         "CLI for the folding validator",
	Long:          `foldctl inspects jobs, submitter tasks and worker scores through the validator API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.foldctl/config)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "validator API URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().StringVar(&caFile, "ca", "", "CA certificate for a self-signed API")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".foldctl"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.BindEnv("api_key", "FOLD_API_KEY")
	viper.BindEnv("api_url", "FOLD_API_URL")
	viper.BindEnv("ca_file", "FOLD_CA_FILE")

	// A missing config file is fine, flags and env still apply
	_ = viper.ReadInConfig()

	if apiURL == "" {
		apiURL = viper.GetString("api_url")
	}
	if apiKey == "" {
		apiKey = viper.GetString("api_key")
	}
	if caFile == "" {
		caFile = viper.GetString("ca_file")
	}
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
}

// GetAPIURL returns the configured API URL with trailing slashes removed
func GetAPIURL() string {
	return strings.TrimRight(apiURL, "/")
}

// CreateAuthenticatedRequest creates an HTTP request with authentication header if API key is configured
func CreateAuthenticatedRequest(method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// GetHTTPClient returns a client trusting --ca when set
func GetHTTPClient() (*http.Client, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	if caFile == "" {
		return client, nil
	}
	tlsConfig, err := tlsutil.ClientConfig(tlsutil.Config{CAFile: caFile})
	if err != nil {
		return nil, err
	}
	client.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	return client, nil
}

// getJSON fetches path from the API and decodes the body into out. Any
// status in accept is decoded; others become errors.
func getJSON(path string, out interface{}, accept ...int) error {
	req, err := CreateAuthenticatedRequest("GET", GetAPIURL()+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	client, err := GetHTTPClient()
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to validator API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	ok := resp.StatusCode == http.StatusOK
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// printStructured writes v as JSON or YAML and reports whether it did.
// Table output is left to the caller.
func printStructured(w io.Writer, v interface{}) (bool, error) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", outputFormat)
	}
}
