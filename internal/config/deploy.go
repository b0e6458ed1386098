package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bitteprotocol/make-agent/internal/netutil"
)

// DeployConfig configures the deploy and update commands.
type DeployConfig struct {
	RegistryConfig

	// URL is the base URL the agent is served from.
	URL string
}

// ParseDeployFlags parses flags for a command acting on a deployed agent.
// Without --url the URL is detected from the hosting platform's environment.
func ParseDeployFlags(name string, args []string) (DeployConfig, error) {
	cfg := DeployConfig{RegistryConfig: defaultRegistryConfig()}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	bindRegistryFlags(fs, &cfg.RegistryConfig)
	fs.StringVarP(&cfg.URL, "url", "u", "", "Deployment URL (default: detected from the environment)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}
	if err := cfg.RegistryConfig.validate(); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DeployedURL(os.LookupEnv)
	}
	cfg.URL = normalizeBaseURL(cfg.URL)
	if _, err := netutil.PluginID(cfg.URL); err != nil {
		return cfg, errors.New("deployment url must be an http(s) URL with a host")
	}
	return cfg, nil
}

// DeployedURL detects the public URL from well-known hosting platform
// variables, falling back to the local dev server.
func DeployedURL(lookup func(string) (string, bool)) string {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	switch {
	case get("VERCEL_ENV") != "":
		switch get("VERCEL_ENV") {
		case "production":
			return "https://" + get("VERCEL_PROJECT_PRODUCTION_URL")
		case "preview":
			if u := get("VERCEL_BRANCH_URL"); u != "" {
				return "https://" + u
			}
			return "https://" + get("VERCEL_URL")
		}
	case get("URL") != "": // Netlify
		return get("URL")
	case get("HEROKU_APP_NAME") != "":
		return "https://" + get("HEROKU_APP_NAME") + ".herokuapp.com"
	case get("EB_ENVIRONMENT_URL") != "":
		return get("EB_ENVIRONMENT_URL")
	case get("K_SERVICE") != "" && get("K_REVISION") != "":
		return "https://" + get("K_SERVICE") + "-" + get("K_REVISION") + ".a.run.app"
	case get("WEBSITE_HOSTNAME") != "":
		return "https://" + get("WEBSITE_HOSTNAME")
	case get("DIGITALOCEAN_APP_URL") != "":
		return get("DIGITALOCEAN_APP_URL")
	case get("RENDER_EXTERNAL_URL") != "":
		return get("RENDER_EXTERNAL_URL")
	case get("BITTE_AGENT_URL") != "":
		return get("BITTE_AGENT_URL")
	}
	return "http://localhost:3000"
}
