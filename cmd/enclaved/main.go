// The enclaved binary runs the enclave key service: it unseals any
// previously provisioned key material, derives the consensus key
// hierarchy, and serves the public key API plus the attested seed
// provisioning endpoint.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexanderbez/SecretNetwork/cmd/flags"
	"github.com/alexanderbez/SecretNetwork/httpserver"
	"github.com/alexanderbez/SecretNetwork/keymanager"
	"github.com/alexanderbez/SecretNetwork/sealing"
	"github.com/awnumar/memguard"
	"github.com/urfave/cli/v2"
)

var serviceLogFlag = flags.LogServiceFlagFn("enclaved")

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8081",
	Usage: "address to listen on for API",
}

var createRegistrationKeyFlag = &cli.BoolFlag{
	Name:  "create-registration-key",
	Value: true,
	Usage: "generate an ephemeral registration key at startup if none is sealed",
}

func main() {
	app := &cli.App{
		Name:  "enclaved",
		Usage: "Serve the enclave key hierarchy",
		Flags: append([]cli.Flag{
			listenAddrFlag,
			createRegistrationKeyFlag,
			flags.SealedDirFlag,
			flags.IdentitySecretFlag,
			flags.ReplicaURIFlag,
			serviceLogFlag,
		}, flags.CommonFlags...),
		Action: runService,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runService(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	identity, err := hex.DecodeString(cCtx.String(flags.IdentitySecretFlag.Name))
	if err != nil {
		return fmt.Errorf("identity secret is not valid hex: %w", err)
	}
	defer memguard.WipeBytes(identity)

	local, err := sealing.NewFileSealer(cCtx.String(flags.SealedDirFlag.Name), identity, logger)
	if err != nil {
		logger.Error("Failed to open sealed storage", "err", err)
		return err
	}

	var store sealing.Sealer = local
	if replicaURIs := cCtx.StringSlice(flags.ReplicaURIFlag.Name); len(replicaURIs) > 0 {
		factory := sealing.NewBackendFactory(logger)
		store = sealing.NewReplicatedSealer(local, factory.Backends(replicaURIs), logger)
	}

	keys := keymanager.New(store, logger)

	if cCtx.Bool(createRegistrationKeyFlag.Name) && !keys.IsRegistrationKeySet() {
		if err := keys.CreateRegistrationKey(); err != nil {
			logger.Error("Failed to create registration key", "err", err)
			return err
		}
	}

	srv, err := httpserver.New(
		flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name)),
		httpserver.NewHandler(keys, logger),
	)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	srv.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	srv.Shutdown()
	logger.Info("Server shutdown complete")

	return nil
}
