package cli

import (
	"context"
	"fmt"
	"io"
)

// runDeploy updates the plugin served at --url and registers it when the
// update does not go through.
func runDeploy(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	d, cfg, code := prepareDeployment(ctx, "deploy", args, stdout, stderr)
	if d == nil {
		return code
	}
	defer d.closeKV()

	urls := cfg.URLs()
	broker := newBroker(d.kv, urls, d.log)
	client := newRegistry(broker, urls, d.hc, d.log)

	err := client.Update(ctx, d.pluginID, d.accountID)
	if err == nil {
		fmt.Fprintln(stdout, "Updated plugin", d.pluginID)
		return 0
	}
	if ctx.Err() != nil {
		return 1
	}
	d.log.Info("update did not go through; registering plugin", "plugin_id", d.pluginID, "err", err)
	id, err := client.Register(ctx, d.pluginID, d.accountID)
	if err != nil {
		fmt.Fprintf(stderr, "deploy failed: plugin %s: %v\n", d.pluginID, err)
		return 1
	}
	fmt.Fprintln(stdout, "Registered plugin", id)
	return 0
}
