// aawallet is a thin command line front end over the wallet stack: it mints,
// transfers and approves through the abstracted wallet and lists what the
// wallet holds.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/nerochain/aa-client/internal/config"
	"github.com/nerochain/aa-client/internal/logger"
	"github.com/nerochain/aa-client/pkg/nft"
	"github.com/nerochain/aa-client/pkg/paymaster"
	"github.com/nerochain/aa-client/pkg/signer"
	"github.com/nerochain/aa-client/pkg/tokens"
	"github.com/nerochain/aa-client/pkg/wallet"
)

var (
	flagKey           string
	flagPayment       string
	flagToken         string
	flagGasMultiplier int
	flagCredential    string
)

type env struct {
	cfg      *config.Config
	provider *wallet.Provider
	executor *wallet.Executor
	eoa      *signer.EOA
}

func setup(ctx context.Context) (*env, error) {
	_ = godotenv.Load()

	l := logger.NewZeroLogr(os.Getenv("AA_CLIENT_LOG_LEVEL"))
	cfg, err := config.Load(l)
	if err != nil {
		return nil, err
	}
	if flagCredential != "" {
		cfg.SetCredential(flagCredential)
	} else {
		cfg.LoadCredential()
	}

	key := flagKey
	if key == "" {
		key = os.Getenv("AA_CLIENT_PRIVATE_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("no private key: pass --key or set AA_CLIENT_PRIVATE_KEY")
	}
	eoa, err := signer.New(key)
	if err != nil {
		return nil, err
	}

	provider, err := wallet.NewProvider(ctx, cfg, l)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:      cfg,
		provider: provider,
		executor: wallet.NewExecutor(provider, cfg, l),
		eoa:      eoa,
	}, nil
}

func (e *env) policy() (paymaster.Policy, error) {
	p := paymaster.Policy{
		Credential:    e.cfg.Credential(),
		GasMultiplier: flagGasMultiplier,
	}
	switch strings.ToLower(flagPayment) {
	case "", "sponsored":
		p.Type = paymaster.Sponsored
	case "prepay":
		p.Type = paymaster.Prepay
	case "postpay":
		p.Type = paymaster.Postpay
	default:
		return p, fmt.Errorf("unknown payment type %q", flagPayment)
	}
	if p.Type != paymaster.Sponsored {
		if !common.IsHexAddress(flagToken) {
			return p, fmt.Errorf("payment type %s needs --token", flagPayment)
		}
		p.Token = common.HexToAddress(flagToken)
	}
	return p, nil
}

func printResult(res *wallet.Result) {
	fmt.Printf("userop hash: %s\n", res.UserOpHash)
	if res.TransactionHash != "" {
		fmt.Printf("transaction: %s\n", res.TransactionHash)
	} else {
		fmt.Println("transaction: pending")
	}
	if res.Receipt != nil {
		fmt.Printf("success: %v\n", res.Receipt.Success)
	}
}

func parseAddr(s, what string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", what, s)
	}
	return common.HexToAddress(s), nil
}

func main() {
	root := &cobra.Command{
		Use:           "aawallet",
		Short:         "Account-abstracted wallet client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagKey, "key", "", "controlling private key (hex)")
	root.PersistentFlags().StringVar(&flagPayment, "payment", "sponsored", "gas payment: sponsored, prepay or postpay")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "gas token address for prepay/postpay")
	root.PersistentFlags().IntVar(&flagGasMultiplier, "gas-multiplier", 0, "fee multiplier percent, 0 for default")
	root.PersistentFlags().StringVar(&flagCredential, "credential", "", "paymaster credential (overrides the stored one)")

	root.AddCommand(
		addressCmd(),
		mintNFTCmd(),
		mintTokenCmd(),
		transferCmd(),
		approveCmd(),
		tokensCmd(),
		nftsCmd(),
		credentialCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the EOA and abstracted wallet addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.provider.Close()

			addr, err := e.provider.WalletAddress(cmd.Context(), e.eoa)
			if err != nil {
				return err
			}
			fmt.Printf("eoa:    %s\n", e.eoa.Address.Hex())
			fmt.Printf("wallet: %s\n", addr.Hex())
			return nil
		},
	}
}

func mintNFTCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint-nft <to> <uri>",
		Short: "Mint an NFT with the given metadata URI",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.provider.Close()

			to, err := parseAddr(args[0], "recipient")
			if err != nil {
				return err
			}
			policy, err := e.policy()
			if err != nil {
				return err
			}

			res, err := e.executor.MintNFT(cmd.Context(), e.eoa, to, args[1], policy)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

func mintTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint-token <to> <amount>",
		Short: "Mint test tokens to an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.provider.Close()

			to, err := parseAddr(args[0], "recipient")
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			policy, err := e.policy()
			if err != nil {
				return err
			}

			res, err := e.executor.MintToken(cmd.Context(), e.eoa, to, amount, policy)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

func transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <token> <to> <amount>",
		Short: "Transfer tokens from the abstracted wallet",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.provider.Close()

			token, err := parseAddr(args[0], "token")
			if err != nil {
				return err
			}
			to, err := parseAddr(args[1], "recipient")
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[2], err)
			}
			policy, err := e.policy()
			if err != nil {
				return err
			}

			res, err := e.executor.TransferToken(cmd.Context(), e.eoa, token, to, amount, policy)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <token> <spender> <amount>",
		Short: "Approve a spender from the abstracted wallet (always sponsored)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.provider.Close()

			token, err := parseAddr(args[0], "token")
			if err != nil {
				return err
			}
			spender, err := parseAddr(args[1], "spender")
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[2], err)
			}
			policy, err := e.policy()
			if err != nil {
				return err
			}

			res, err := e.executor.ApproveToken(cmd.Context(), e.eoa, token, spender, amount, policy)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
}

func tokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tokens",
		Short: "List paymaster-accepted tokens and wallet balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.provider.Close()

			b, err := e.provider.Builder(cmd.Context(), e.eoa)
			if err != nil {
				return err
			}

			l := logger.NewZeroLogr(os.Getenv("AA_CLIENT_LOG_LEVEL"))
			svc := tokens.NewService(e.provider.Eth(), e.provider.Paymaster(), e.cfg, l)
			list := svc.SupportedTokens(cmd.Context(), b, e.cfg.Credential())
			if len(list) == 0 {
				fmt.Println("no supported tokens reported")
				return nil
			}

			balances := svc.AllBalances(cmd.Context(), b.Sender(), list)
			for _, t := range list {
				fmt.Printf("%-8s %s  decimals=%d  balance=%s\n",
					t.Symbol, t.Address.Hex(), t.Decimals, balances[t.Address])
			}
			return nil
		},
	}
}

func nftsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nfts [owner]",
		Short: "List NFTs owned by the wallet (or a given address)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer e.provider.Close()

			var owner common.Address
			if len(args) == 1 {
				owner, err = parseAddr(args[0], "owner")
				if err != nil {
					return err
				}
			} else {
				owner, err = e.provider.WalletAddress(cmd.Context(), e.eoa)
				if err != nil {
					return err
				}
			}

			l := logger.NewZeroLogr(os.Getenv("AA_CLIENT_LOG_LEVEL"))
			svc := nft.NewService(e.provider.Eth(), e.cfg, l)
			items := svc.OwnedNFTs(cmd.Context(), owner)
			if len(items) == 0 {
				fmt.Println("no NFTs found")
				return nil
			}
			for _, item := range items {
				fmt.Printf("#%s  %s\n", item.TokenID, item.Name)
				if item.ImageURL != "" {
					fmt.Printf("    image: %s\n", item.ImageURL)
				}
			}
			return nil
		},
	}
}

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the stored paymaster credential",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <value>",
			Short: "Store a paymaster credential",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				l := logger.NewZeroLogr(os.Getenv("AA_CLIENT_LOG_LEVEL"))
				cfg, err := config.Load(l)
				if err != nil {
					return err
				}
				defer cfg.Close()
				cfg.SetCredential(args[0])
				fmt.Println("credential stored")
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget the stored paymaster credential",
			RunE: func(cmd *cobra.Command, args []string) error {
				l := logger.NewZeroLogr(os.Getenv("AA_CLIENT_LOG_LEVEL"))
				cfg, err := config.Load(l)
				if err != nil {
					return err
				}
				defer cfg.Close()
				cfg.ClearCredential()
				fmt.Println("credential cleared")
				return nil
			},
		},
	)
	return cmd
}
