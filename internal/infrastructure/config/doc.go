// Package config handles loading and validating Gray Logic IoT client configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Passphrases and AWS secrets should be set via environment variables
//     (GRAYLOGIC_IOT_KEYSTORE_PASSPHRASE, GRAYLOGIC_IOT_KEY_PASSPHRASE,
//     AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Client.Endpoint)
package config
