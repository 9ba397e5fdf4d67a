// Command corenetd is a reference entrypoint for the peer-to-peer
// networking core, driven by a TOML configuration file. It binds no chain
// controller, signer or verifier, so after loading the configuration it
// exits with the error ListenAndServe reports for an unbound Manager.
package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/corechain/corenet/corenet"
	"github.com/corechain/corenet/log"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "listen address, overrides the config file",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=error ... 4=trace)",
		Value: int(log.LvlInfo),
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "corenetd"
	app.Usage = "P2P networking core for a blockchain full node"
	app.Flags = []cli.Flag{configFileFlag, listenFlag, verbosityFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log.SetRootLevel(log.Lvl(ctx.Int(verbosityFlag.Name)))

	cfg := corenet.Defaults
	if path := ctx.String(configFileFlag.Name); path != "" {
		loaded, err := corenet.LoadTOML(path)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if addr := ctx.String(listenFlag.Name); addr != "" {
		cfg.ListenAddress = addr
	}

	log.Root().Info("starting corenetd", "listen", cfg.ListenAddress, "max_peers", cfg.MaxPeers,
		"node_id", cfg.NodeID().Short(), "signing_key_ref", cfg.SigningKeyRef)

	// corenetd is a reference entrypoint for the networking core alone.
	// Like net_plugin inside nodeos, it has no block log or key vault of its
	// own: a real deployment embeds this package in a host process that
	// constructs its ChainController, Signer, and Verifier and calls
	// Manager.Bind before serving, which is why ListenAndServe below returns
	// an error immediately rather than accepting connections unbound.
	manager := corenet.NewManager(&cfg, corenet.RealClock)
	return manager.ListenAndServe()
}
