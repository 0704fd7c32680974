package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frfusch21/digital-signer-app/internal/ca"
)

const version = "1.0.0"

var caDir string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cactl",
		Short: "Certificate authority administration",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if caDir == "" {
				caDir = os.Getenv("CA_DIR")
			}
			if caDir == "" {
				caDir = "ca"
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&caDir, "dir", "", "CA material directory (or set CA_DIR)")

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cactl version %s\n", version)
		},
	}
}

// generateCmd creates a fresh root key pair and self-signed certificate.
func generateCmd() *cobra.Command {
	var days int
	var force bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new root CA key and certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ca.Load(caDir); err == nil && !force {
				return fmt.Errorf("CA material already exists in %q (use --force to overwrite)", caDir)
			}
			if err := ca.GenerateRoot(caDir, days); err != nil {
				return fmt.Errorf("generating root: %w", err)
			}
			fmt.Printf("Generated root CA in %q (valid %d days)\n", caDir, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", ca.DefaultValidityDays, "Root certificate validity in days")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing CA material")
	return cmd
}

// infoCmd prints the root certificate details.
func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show root certificate details",
		RunE: func(cmd *cobra.Command, args []string) error {
			authority, err := ca.Load(caDir)
			if err != nil {
				return fmt.Errorf("loading CA from %q: %w", caDir, err)
			}

			block, _ := pem.Decode([]byte(authority.RootCertificatePEM()))
			if block == nil {
				return fmt.Errorf("root certificate is not valid PEM")
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return fmt.Errorf("parsing root certificate: %w", err)
			}

			fmt.Printf("Subject:    %s\n", cert.Subject)
			fmt.Printf("Serial:     %s\n", cert.SerialNumber)
			fmt.Printf("Not before: %s\n", cert.NotBefore.Format("2006-01-02"))
			fmt.Printf("Not after:  %s\n", cert.NotAfter.Format("2006-01-02"))
			fmt.Printf("Signature:  %s\n", cert.SignatureAlgorithm)
			return nil
		},
	}
}
