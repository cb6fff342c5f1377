package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"campuschain/internal/cli"
	"campuschain/internal/core"
	"campuschain/internal/log"
	"campuschain/internal/report"
	"campuschain/internal/report/google"
	"campuschain/internal/services"

	"github.com/google/subcommands"
)

var commands = []subcommands.Command{
	&registerCmd{},
	&merchantCmd{},
	&linkCmd{},
	&fundCmd{},
	&spendCmd{},
	&detailCmd{},
	&aggregateCmd{},
	&reconcileCmd{},
	&exportCmd{},
}

// run loads configuration, wires the application and hands it to fn.
func run(ctx context.Context, fn func(ctx context.Context, app *cli.App) error) subcommands.ExitStatus {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)

	cfg, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	app, err := cli.Build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer app.Close()

	if err := fn(ctx, app); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// describe adds the operator guidance that goes with each error kind.
func describe(err error) string {
	switch {
	case errors.Is(err, core.ErrUnconfirmed):
		return fmt.Sprintf("%v\nThe transfer may still confirm. Do not resend it; check `detail` or run `reconcile`.", err)
	case errors.Is(err, core.ErrLedgerUnavailable):
		return fmt.Sprintf("%v\nNothing was sent. It is safe to retry.", err)
	case errors.Is(err, core.ErrForbidden):
		return "forbidden"
	default:
		return err.Error()
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseMonth(s string) (core.Month, error) {
	if s == "" {
		return core.MonthOf(time.Now()), nil
	}
	return core.ParseMonth(s)
}

func requireFlags(f *flag.FlagSet, names ...string) error {
	for _, n := range names {
		if fl := f.Lookup(n); fl == nil || fl.Value.String() == "" {
			return fmt.Errorf("-%s is required", n)
		}
	}
	return nil
}

type registerCmd struct {
	id, role, name string
}

func (*registerCmd) Name() string     { return "register" }
func (*registerCmd) Synopsis() string { return "register a spender, guardian or treasury principal" }
func (*registerCmd) Usage() string {
	return `campusctl register -id <id> -role <spender|guardian|treasury> [-name <display name>]

  Custodial roles get a vault credential; the new address is printed.
`
}

func (c *registerCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Principal id.")
	f.StringVar(&c.role, "role", "spender", "Principal role.")
	f.StringVar(&c.name, "name", "", "Display name.")
}

func (c *registerCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "id"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		p, err := app.Registration.Register(ctx, core.Principal{ID: c.id, Role: core.Role(c.role), DisplayName: c.name})
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", p.ID, p.Role, p.Address)
		return nil
	})
}

type merchantCmd struct {
	id, name, category string
}

func (*merchantCmd) Name() string     { return "merchant" }
func (*merchantCmd) Synopsis() string { return "register a merchant with its spending category" }
func (*merchantCmd) Usage() string {
	return `campusctl merchant -id <id> -name <name> -category <food|events|stationery>
`
}

func (c *merchantCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Merchant principal id.")
	f.StringVar(&c.name, "name", "", "Merchant name.")
	f.StringVar(&c.category, "category", "", "Category of everything sold here.")
}

func (c *merchantCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "id", "name", "category"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		m, err := app.Registration.RegisterMerchant(ctx, c.id, c.name, core.Category(c.category))
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\t%s\n", m.PrincipalID, m.Category, m.Address)
		return nil
	})
}

type linkCmd struct {
	guardian, spender string
}

func (*linkCmd) Name() string     { return "link" }
func (*linkCmd) Synopsis() string { return "let a guardian see and fund a spender" }
func (*linkCmd) Usage() string {
	return `campusctl link -guardian <id> -spender <id>
`
}

func (c *linkCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.guardian, "guardian", "", "Guardian id.")
	f.StringVar(&c.spender, "spender", "", "Spender id.")
}

func (c *linkCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "guardian", "spender"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		return app.Registration.LinkGuardian(ctx, c.guardian, c.spender)
	})
}

type fundCmd struct {
	guardian, spender, amount string
}

func (*fundCmd) Name() string     { return "fund" }
func (*fundCmd) Synopsis() string { return "move tokens from the treasury to a spender" }
func (*fundCmd) Usage() string {
	return `campusctl fund -guardian <id> -spender <id> -amount <units>
`
}

func (c *fundCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.guardian, "guardian", "", "Funding guardian.")
	f.StringVar(&c.spender, "spender", "", "Spender to fund.")
	f.StringVar(&c.amount, "amount", "", "Whole token units.")
}

func (c *fundCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "guardian", "spender", "amount"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	units, err := core.ParseUnits(c.amount)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		funding, err := app.Funding.Fund(ctx, c.guardian, c.spender, core.Money{Units: units})
		if funding != nil {
			fmt.Printf("%s\t%d\n", funding.TransferID, funding.Amount.Units)
		}
		return err
	})
}

type spendCmd struct {
	spender, merchant, amount, category string
}

func (*spendCmd) Name() string     { return "spend" }
func (*spendCmd) Synopsis() string { return "pay a registered merchant from a spender wallet" }
func (*spendCmd) Usage() string {
	return `campusctl spend -spender <id> -merchant <id> -amount <units> -category <food|events|stationery>
`
}

func (c *spendCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.spender, "spender", "", "Paying spender.")
	f.StringVar(&c.merchant, "merchant", "", "Receiving merchant.")
	f.StringVar(&c.amount, "amount", "", "Whole token units.")
	f.StringVar(&c.category, "category", "", "Spending category.")
}

func (c *spendCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "spender", "merchant", "amount", "category"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	units, err := core.ParseUnits(c.amount)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		tr, err := app.Executor.Execute(ctx, services.SpendRequest{
			SpenderID:  c.spender,
			MerchantID: c.merchant,
			Amount:     core.Money{Units: units},
			Category:   core.Category(c.category),
		})
		if tr != nil {
			fmt.Printf("%s\t%s\n", tr.TransferID, tr.Status)
		}
		return err
	})
}

type detailCmd struct {
	caller, spender string
}

func (*detailCmd) Name() string     { return "detail" }
func (*detailCmd) Synopsis() string { return "print the itemized log visible to a caller" }
func (*detailCmd) Usage() string {
	return `campusctl detail -caller <id> -spender <id>

  Spenders see their whole log, merchants the rows paid to them.
`
}

func (c *detailCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.caller, "caller", "", "Principal asking.")
	f.StringVar(&c.spender, "spender", "", "Spender whose log is read.")
}

func (c *detailCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "caller", "spender"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		entries, err := app.Gate.ReadDetail(ctx, c.caller, c.spender)
		if err != nil {
			return err
		}
		return printJSON(entries)
	})
}

type aggregateCmd struct {
	caller, spender, month string
}

func (*aggregateCmd) Name() string     { return "aggregate" }
func (*aggregateCmd) Synopsis() string { return "print a spender's monthly category totals" }
func (*aggregateCmd) Usage() string {
	return `campusctl aggregate -caller <id> -spender <id> [-month YYYY-MM]
`
}

func (c *aggregateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.caller, "caller", "", "Spender or linked guardian.")
	f.StringVar(&c.spender, "spender", "", "Spender whose totals are read.")
	f.StringVar(&c.month, "month", "", "Month to read, defaults to the current one.")
}

func (c *aggregateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "caller", "spender"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	month, err := parseMonth(c.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		view, err := app.Gate.ReadAggregate(ctx, c.caller, c.spender, month)
		if err != nil {
			return err
		}
		return printJSON(view)
	})
}

type reconcileCmd struct {
	spender string
	pending bool
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "run one reconciliation pass now" }
func (*reconcileCmd) Usage() string {
	return `campusctl reconcile [-spender <id> | -pending]

  Without flags every tracked spender is replayed.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.spender, "spender", "", "Replay a single spender.")
	f.BoolVar(&c.pending, "pending", false, "Replay only spenders with pending transfers.")
}

func (c *reconcileCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		var (
			res services.CycleResult
			err error
		)
		switch {
		case c.spender != "":
			res, err = app.Reconciler.ReconcileSpender(ctx, c.spender)
		case c.pending:
			res, err = app.Reconciler.ResolvePending(ctx)
		default:
			res, err = app.Reconciler.RunCycle(ctx)
		}
		if err != nil {
			return err
		}
		fmt.Printf("spenders=%d applied=%d skipped=%d expired=%d failed=%d\n",
			res.Spenders, res.Applied, res.Skipped, res.Expired, res.Failed)
		return nil
	})
}

type exportCmd struct {
	caller, spender, month string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "append a monthly aggregate report to Google Sheets" }
func (*exportCmd) Usage() string {
	return `campusctl export -caller <id> -spender <id> [-month YYYY-MM]

  Requires REPORT_SPREADSHEET_ID and service account credentials.
`
}

func (c *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.caller, "caller", "", "Spender or linked guardian.")
	f.StringVar(&c.spender, "spender", "", "Spender to report on.")
	f.StringVar(&c.month, "month", "", "Month to export, defaults to the current one.")
}

func (c *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := requireFlags(f, "caller", "spender"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	month, err := parseMonth(c.month)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(ctx, func(ctx context.Context, app *cli.App) error {
		cfg := app.Config
		if cfg.ReportSpreadsheetID == "" {
			return errors.New("REPORT_SPREADSHEET_ID is not set")
		}
		writer, err := google.New(ctx, google.Config{
			SpreadsheetID:   cfg.ReportSpreadsheetID,
			SheetName:       cfg.ReportSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			return err
		}
		n, err := report.NewExporter(app.Gate, writer, cfg.Currency).Export(ctx, c.caller, c.spender, month)
		if err != nil {
			return err
		}
		fmt.Printf("exported %d rows\n", n)
		return nil
	})
}
