/*
Package config loads reportgate's configuration. Defaults are overridden by
an optional YAML file, then by an optional .env file, then by the process
environment:

	cfg, err := config.Load(config.WithFile("reportgate.yaml"), config.WithEnvFile(".env"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

The realm is located by KEYCLOAK_URL (or KEYCLOAK_BASE_URL), KEYCLOAK_REALM
and KEYCLOAK_CLIENT_ID. See the env tags of Config for the full list.
*/
package config
