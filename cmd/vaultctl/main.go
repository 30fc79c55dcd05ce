// Command vaultctl holds operator and nominee helpers: master key
// generation, the client-side 3-of-3 split and recombination, and dev tokens.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/deadlock-vault/internal/config"
	jwtinfra "github.com/deadlock-vault/internal/infrastructure/jwt"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var flagSecret = &cli.StringFlag{
	Name:  "secret",
	Usage: "Base64 secret to split; a random 32-byte key is generated when empty",
}

var flagShare = &cli.StringSliceFlag{
	Name:     "share",
	Usage:    "Nominee share (repeat three times)",
	Required: true,
}

var flagUser = &cli.StringFlag{
	Name:     "user",
	Usage:    "Owner id placed in the token",
	Required: true,
}

var flagRole = &cli.StringFlag{
	Name:  "role",
	Value: "user",
	Usage: "Role claim (user or admin)",
}

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "vaultctl",
		Usage: "deadlock vault helper",
		Commands: []*cli.Command{
			{
				Name:  "genkey",
				Usage: "print a new MASTER_SHARE_ENCRYPTION_KEY",
				Action: func(cCtx *cli.Context) error {
					key, err := newMasterKey()
					if err != nil {
						return err
					}
					fmt.Println(key)
					return nil
				},
			},
			{
				Name:  "split",
				Usage: "split a secret into the three nominee shares",
				Flags: []cli.Flag{flagSecret},
				Action: func(cCtx *cli.Context) error {
					var secret []byte
					if s := cCtx.String(flagSecret.Name); s != "" {
						b, err := base64.StdEncoding.DecodeString(s)
						if err != nil {
							return fmt.Errorf("secret is not base64: %w", err)
						}
						secret = b
					} else {
						secret = make([]byte, 32)
						if _, err := rand.Read(secret); err != nil {
							return err
						}
					}
					shares, err := splitSecret(secret)
					if err != nil {
						return err
					}
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]interface{}{
						"secret":       base64.StdEncoding.EncodeToString(secret),
						"shares":       shares,
						"threshold":    len(shares),
						"total_shares": len(shares),
					})
				},
			},
			{
				Name:  "combine",
				Usage: "recover the secret from the three nominee shares",
				Flags: []cli.Flag{flagShare},
				Action: func(cCtx *cli.Context) error {
					secret, err := combineShares(cCtx.StringSlice(flagShare.Name))
					if err != nil {
						return err
					}
					fmt.Println(base64.StdEncoding.EncodeToString(secret))
					return nil
				},
			},
			{
				Name:  "token",
				Usage: "sign a bearer token with JWT_PRIVATE_KEY_PATH (development only)",
				Flags: []cli.Flag{flagUser, flagRole},
				Action: func(cCtx *cli.Context) error {
					p, err := jwtinfra.NewProvider(config.Load())
					if err != nil {
						return err
					}
					tok, err := p.Sign(cCtx.String(flagUser.Name), cCtx.String(flagRole.Name))
					if err != nil {
						return err
					}
					fmt.Println(tok)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
