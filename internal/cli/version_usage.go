package cli

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `make-agent - expose, register and live-sync a local AI agent

Runs your agent's local server behind a public tunnel, signs in with your
wallet, registers the agent's plugin manifest and keeps it updated while
you edit files. Stopping the process deletes the plugin and closes the tunnel.

Usage:
  make-agent [dev] [flags]              Start a dev session (default command)
  make-agent login                      Sign a message with your wallet and cache the credential
  make-agent validate [url]             Check {url}/.well-known/ai-plugin.json (default http://127.0.0.1:3000)
  make-agent deploy [-u url]            Update the deployed plugin, registering it if needed
  make-agent update [-u url]            Update the deployed plugin with the cached credential
  make-agent delete <pluginId>          Delete a registered plugin with the cached credential
  make-agent version                    Print version
  make-agent help                       Show this help

Dev flags:
  -p, --port N              Local port of the agent server (default 3000)
      --tunnel KIND         hosted|ssh (default ssh)
      --ssh-host HOST       SSH reverse tunnel host (default serveo.net)
      --ssh-key PATH        SSH key, generated on first use (default ~/.ssh/serveo_key)
      --tunnel-server URL   Hosted tunnel server (with --tunnel=hosted)
      --tunnel-api-key KEY  Hosted tunnel API key
      --tunnel-name NAME    Requested hosted subdomain
      --settle DURATION     Wait after the tunnel opens (default 1s)
      --debounce DURATION   File change debounce window (default 250ms)

Shared flags:
  -t, --testnet             Use the testnet wallet
      --wallet-url URL      Wallet base URL override
      --state KIND          env|sqlite|memory (default env)
      --state-path PATH     SQLite file (default .make-agent/state.db)
      --log-level LEVEL     debug|info|warn|error (default info)
      --timeout DURATION    HTTP request timeout (default 30s)
      --dir PATH            Project directory for env files and watching (default: current directory)

Deploy/update flags:
  -u, --url URL             Deployment URL (default: detected from VERCEL_*, URL, HEROKU_APP_NAME,
                            K_SERVICE, WEBSITE_HOSTNAME, RENDER_EXTERNAL_URL, BITTE_AGENT_URL, ...)

Environment Variables:
  MAKE_AGENT_PORT, MAKE_AGENT_TUNNEL, MAKE_AGENT_TUNNEL_SERVER,
  MAKE_AGENT_TUNNEL_API_KEY, MAKE_AGENT_TUNNEL_NAME, MAKE_AGENT_SSH_HOST,
  MAKE_AGENT_SSH_KEY, MAKE_AGENT_DIR, MAKE_AGENT_TESTNET,
  MAKE_AGENT_WALLET_URL, MAKE_AGENT_STATE, MAKE_AGENT_STATE_PATH,
  MAKE_AGENT_LOG_LEVEL`)
}

// Version is set at build time via -ldflags.
var Version = "dev"

func init() {
	if Version == "dev" {
		if desc, err := exec.Command("git", "describe", "--tags", "--always").Output(); err == nil {
			if v := strings.TrimSpace(string(desc)); v != "" {
				Version = v + "-dev"
			}
		}
	}
	if Version != "dev" && !strings.HasPrefix(Version, "v") {
		Version = "v" + Version
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, "make-agent", Version)
}
