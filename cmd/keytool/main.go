// The keytool binary manages sealed key material offline: inspecting
// provisioning state, bootstrapping a fresh seed, and splitting or
// recombining the seed for disaster recovery.
package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/alexanderbez/SecretNetwork/cmd/flags"
	"github.com/alexanderbez/SecretNetwork/keymanager"
	"github.com/alexanderbez/SecretNetwork/recovery"
	"github.com/alexanderbez/SecretNetwork/sealing"
	"github.com/awnumar/memguard"
	"github.com/urfave/cli/v2"
)

var serviceLogFlag = flags.LogServiceFlagFn("keytool")

var thresholdFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
	Usage: "number of shares required to reconstruct the seed",
}

var sharesFlag = &cli.IntFlag{
	Name:  "shares",
	Value: 5,
	Usage: "total number of shares to produce",
}

var shareFlag = &cli.StringSliceFlag{
	Name:  "share",
	Usage: "hex-encoded recovery share, repeatable",
}

func main() {
	storeFlags := []cli.Flag{
		flags.SealedDirFlag,
		flags.IdentitySecretFlag,
		serviceLogFlag,
		flags.LogJsonFlag,
		flags.LogDebugFlag,
	}

	app := &cli.App{
		Name:  "keytool",
		Usage: "Manage sealed enclave key material",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "show which keys are present in sealed storage",
				Flags:  storeFlags,
				Action: runStatus,
			},
			{
				Name:   "create-seed",
				Usage:  "generate and seal a fresh consensus seed",
				Flags:  storeFlags,
				Action: runCreateSeed,
			},
			{
				Name:   "create-registration-key",
				Usage:  "generate and seal a fresh registration key",
				Flags:  storeFlags,
				Action: runCreateRegistrationKey,
			},
			{
				Name:   "split-seed",
				Usage:  "split the sealed consensus seed into recovery shares",
				Flags:  append(storeFlags, thresholdFlag, sharesFlag),
				Action: runSplitSeed,
			},
			{
				Name:   "recover-seed",
				Usage:  "reconstruct the consensus seed from recovery shares and seal it",
				Flags:  append(storeFlags, shareFlag),
				Action: runRecoverSeed,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openKeychain(cCtx *cli.Context) (*keymanager.Keychain, *slog.Logger, error) {
	logger := flags.SetupLogger(cCtx)

	identity, err := hex.DecodeString(cCtx.String(flags.IdentitySecretFlag.Name))
	if err != nil {
		return nil, nil, fmt.Errorf("identity secret is not valid hex: %w", err)
	}
	defer memguard.WipeBytes(identity)

	sealer, err := sealing.NewFileSealer(cCtx.String(flags.SealedDirFlag.Name), identity, logger)
	if err != nil {
		return nil, nil, err
	}

	return keymanager.New(sealer, logger), logger, nil
}

func runStatus(cCtx *cli.Context) error {
	keys, _, err := openKeychain(cCtx)
	if err != nil {
		return err
	}

	fmt.Printf("consensus seed:           %v\n", keys.IsConsensusSeedSet())
	fmt.Printf("seed exchange keypair:    %v\n", keys.IsConsensusSeedExchangeKeypairSet())
	fmt.Printf("io exchange keypair:      %v\n", keys.IsConsensusIoExchangeKeypairSet())
	fmt.Printf("state ikm:                %v\n", keys.IsConsensusStateIkmSet())
	fmt.Printf("registration key:         %v\n", keys.IsRegistrationKeySet())
	return nil
}

func runCreateSeed(cCtx *cli.Context) error {
	keys, logger, err := openKeychain(cCtx)
	if err != nil {
		return err
	}

	if keys.IsConsensusSeedSet() {
		return fmt.Errorf("a consensus seed is already sealed, refusing to overwrite")
	}
	if err := keys.CreateConsensusSeed(); err != nil {
		return err
	}

	logger.Info("Consensus seed created and sealed")
	return nil
}

func runCreateRegistrationKey(cCtx *cli.Context) error {
	keys, logger, err := openKeychain(cCtx)
	if err != nil {
		return err
	}

	if err := keys.CreateRegistrationKey(); err != nil {
		return err
	}

	logger.Info("Registration key created and sealed")
	return nil
}

func runSplitSeed(cCtx *cli.Context) error {
	keys, _, err := openKeychain(cCtx)
	if err != nil {
		return err
	}

	seed, err := keys.GetConsensusSeed()
	if err != nil {
		return err
	}
	defer seed.Wipe()

	shares, err := recovery.SplitSeed(seed, cCtx.Int(thresholdFlag.Name), cCtx.Int(sharesFlag.Name))
	if err != nil {
		return err
	}

	for i, share := range shares {
		fmt.Printf("share %d: %s\n", i+1, hex.EncodeToString(share))
		memguard.WipeBytes(share)
	}
	return nil
}

func runRecoverSeed(cCtx *cli.Context) error {
	keys, logger, err := openKeychain(cCtx)
	if err != nil {
		return err
	}

	if keys.IsConsensusSeedSet() {
		return fmt.Errorf("a consensus seed is already sealed, refusing to overwrite")
	}

	shareHex := cCtx.StringSlice(shareFlag.Name)
	if len(shareHex) < 2 {
		return fmt.Errorf("at least 2 shares are required")
	}

	shares := make([][]byte, 0, len(shareHex))
	for i, s := range shareHex {
		share, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("share %d is not valid hex: %w", i+1, err)
		}
		shares = append(shares, share)
	}
	defer func() {
		for i := range shares {
			memguard.WipeBytes(shares[i])
		}
	}()

	seed, err := recovery.CombineShares(shares)
	if err != nil {
		return err
	}
	defer seed.Wipe()

	if err := keys.SetConsensusSeed(seed); err != nil {
		return err
	}

	logger.Info("Consensus seed recovered and sealed")
	return nil
}
