package main

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/shellgate/internal/authn"
)

func keygenCmd() *cobra.Command {
	var apiKey string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a JWT signing key (EC P-256), or hash an API key",
		Long:  "With no flags, generates an ECDSA P-256 private key for JWT mode and prints it as base64 DER, along with the matching public key for gateway.yaml's security.auth.jwt.public_key.\nWith --api-key, bcrypt-hashes the given secret for security.auth.api_keys[].hash instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey != "" {
				hash, err := authn.HashKey(apiKey)
				if err != nil {
					return err
				}
				fmt.Println(hash)
				return nil
			}

			key, err := authn.GenerateECKey()
			if err != nil {
				return err
			}
			der, err := x509.MarshalECPrivateKey(key)
			if err != nil {
				return err
			}
			pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
			if err != nil {
				return err
			}

			fmt.Println(base64.StdEncoding.EncodeToString(der))
			fmt.Fprintf(cmd.ErrOrStderr(), "\npublic key (for gateway.yaml): %s\n", base64.StdEncoding.EncodeToString(pubDER))
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "bcrypt-hash this raw API key secret instead of generating a JWT key")
	return cmd
}
