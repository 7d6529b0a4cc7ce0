package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"capitania.club/internal/backend"
	"capitania.club/internal/client"
	"capitania.club/internal/gate"
	"capitania.club/internal/member"
	"capitania.club/internal/members"
	"capitania.club/internal/wallet"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "clubctl",
		Short:        "Capitania member card and club management from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "optional dotenv file")
	root.PersistentFlags().StringVar(&a.server, "server", "", "API base URL (default from CAPITANIA_CLIENT_BASE_URL)")
	root.PersistentFlags().StringVar(&a.tokenFile, "session-file", "", "where the session is stored between runs")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newPasswordCmd(a),
		newWatchCmd(a),
		newCardCmd(a),
		newCheckinCmd(a),
		newFixtureCmd(a),
		newMembersCmd(a),
	)
	return root
}

func newLoginCmd(a *app) *cobra.Command {
	var cpf, email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with CPF (or e-mail) and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				password = os.Getenv("CAPITANIA_PASSWORD")
			}
			if password == "" {
				return errors.New("password is required (--password or CAPITANIA_PASSWORD)")
			}
			ctx := cmd.Context()
			g, err := a.startGate(ctx)
			if err != nil {
				return err
			}
			defer g.Close()
			before := g.Current().Token

			switch {
			case cpf != "":
				_, err = a.client.SignInWithCPF(ctx, cpf, password)
			case email != "":
				_, err = a.client.SignInWithPassword(ctx, email, password)
			default:
				return errors.New("--cpf or --email is required")
			}
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			snap, err := settle(ctx, g, before)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			if snap.State == gate.StateMustChangePassword {
				fmt.Fprintln(cmd.OutOrStdout(), "A password change is required: run `clubctl password --new <senha>`.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cpf, "cpf", "", "CPF, with or without mask")
	cmd.Flags().StringVar(&email, "email", "", "e-mail address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client.SignOut(cmd.Context()); err != nil {
				a.log.Warn("server sign-out failed; local session cleared", "err", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the session state and profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.startGate(cmd.Context())
			if err != nil {
				return err
			}
			defer g.Close()
			printSnapshot(cmd.OutOrStdout(), g.Current())
			return nil
		},
	}
}

func newPasswordCmd(a *app) *cobra.Command {
	var next, confirm string
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Set a new password (required after staff registration)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if confirm == "" {
				confirm = next
			}
			if next != confirm {
				return errors.New("as senhas não coincidem")
			}
			ctx := cmd.Context()
			g, err := a.startGate(ctx)
			if err != nil {
				return err
			}
			defer g.Close()
			if g.State() == gate.StateUnauthenticated {
				return client.ErrNoSession
			}
			before := g.Current().Token
			if err := a.client.UpdatePassword(ctx, next); err != nil {
				return err
			}
			snap, err := settle(ctx, g, before)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password updated.")
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&next, "new", "", "new password")
	cmd.Flags().StringVar(&confirm, "confirm", "", "confirmation (defaults to --new)")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow session transitions and member changes until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, err := a.startGate(ctx)
			if err != nil {
				return err
			}
			defer g.Close()

			out := cmd.OutOrStdout()
			printSnapshot(out, g.Current())
			sub := a.client.SubscribeToTableChanges(backend.TableProfiles, func(c backend.Change) {
				fmt.Fprintf(out, "%s %s %s\n", c.At.Format("15:04:05"), c.Kind, c.RecordID)
			})
			defer sub.Unsubscribe()

			for snap := range g.Watch(ctx) {
				printSnapshot(out, snap)
			}
			return nil
		},
	}
}

func newCardCmd(a *app) *cobra.Command {
	var png string
	var size int
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Show the member card with its QR code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			card, err := a.client.Card(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printCard(out, card)
			if png != "" {
				raw, err := a.client.CardQR(ctx, "png", size)
				if err != nil {
					return err
				}
				if err := os.WriteFile(png, raw, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "QR code written to %s\n", png)
				return nil
			}
			qr, err := card.QRText()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, qr)
			return nil
		},
	}
	cmd.Flags().StringVar(&png, "png", "", "write the QR code PNG to this file")
	cmd.Flags().IntVar(&size, "size", wallet.DefaultQRSize, "PNG size in pixels")
	return cmd
}

func newCheckinCmd(a *app) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Check in at the club",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if list {
				items, err := a.client.Checkins(ctx, 10)
				if err != nil {
					return err
				}
				for _, c := range items {
					fmt.Fprintf(out, "%s  %s\n", c.At.Local().Format("02/01/2006 15:04"), c.ID)
				}
				return nil
			}
			c, err := a.client.CheckIn(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Check-in realizado às %s\n", c.At.Local().Format("15:04"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list recent check-ins instead")
	return cmd
}

func newFixtureCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fixture",
		Short: "Show the club's next match",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fx, err := a.client.NextFixture(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if fx == nil {
				fmt.Fprintln(out, "Nenhuma partida agendada.")
				return nil
			}
			fmt.Fprintf(out, "%s\n%s x %s\n%s · %s\n", fx.Tournament, fx.Home.Name, fx.Away.Name,
				fx.StartsAt.Local().Format("02/01 15:04"), fx.Venue)
			return nil
		},
	}
}

func newMembersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage club members (admins and the Master)",
	}

	var query string
	list := &cobra.Command{
		Use:   "list",
		Short: "List members, optionally filtered by name or e-mail",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := a.client.ListMembers(cmd.Context(), query)
			if err != nil {
				return explain(err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNOME\tE-MAIL\tPAPEL\tSTATUS")
			for _, p := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.FullName, p.Email, p.Role.Label(), p.StatusLabel())
			}
			return w.Flush()
		},
	}
	list.Flags().StringVarP(&query, "query", "q", "", "search text")

	options := &cobra.Command{
		Use:   "options ID",
		Short: "Show what you may do with a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			menu, err := a.client.MemberOptions(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			out := cmd.OutOrStdout()
			if menu.Notice != "" {
				fmt.Fprintln(out, menu.Notice)
			}
			for _, o := range menu.Options {
				fmt.Fprintf(out, "- %s (%s)\n", o.Label, o.Action)
			}
			return nil
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle ID",
		Short: "Activate or deactivate a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client.ToggleStatus(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s agora está %s\n", p.FullName, p.StatusLabel())
			return nil
		},
	}

	role := &cobra.Command{
		Use:   "role ID ROLE",
		Short: "Change a member's role (Master only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := member.ParseRole(args[1])
			if err != nil {
				return err
			}
			p, err := a.client.ChangeRole(cmd.Context(), args[0], r)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s agora é %s\n", p.FullName, p.Role.Label())
			return nil
		},
	}

	var yes bool
	remove := &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a member permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("removal is permanent; pass --yes to confirm")
			}
			if err := a.client.RemoveMember(cmd.Context(), args[0]); err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Membro removido.")
			return nil
		},
	}
	remove.Flags().BoolVar(&yes, "yes", false, "confirm removal")

	var in members.RegisterInput
	register := &cobra.Command{
		Use:   "register",
		Short: "Register a member with the temporary password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := a.client.RegisterMember(cmd.Context(), in)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Membro %s cadastrado (%s). Troca de senha obrigatória no primeiro acesso.\n", p.FullName, p.ID)
			return nil
		},
	}
	register.Flags().StringVar(&in.FullName, "name", "", "full name")
	register.Flags().StringVar(&in.CPF, "cpf", "", "CPF")
	register.Flags().StringVar(&in.Email, "email", "", "e-mail")
	_ = register.MarkFlagRequired("name")
	_ = register.MarkFlagRequired("cpf")
	_ = register.MarkFlagRequired("email")

	cmd.AddCommand(list, options, toggle, role, remove, register)
	return cmd
}

// explain turns a policy refusal into the message shown to staff.
func explain(err error) error {
	var apiErr *client.APIError
	if _, ok := client.IsDenied(err); ok && errors.As(err, &apiErr) {
		return fmt.Errorf("ação não permitida: %s", apiErr.Message)
	}
	return err
}

func printSnapshot(out io.Writer, snap gate.Snapshot) {
	stack := gate.StackFor(snap.State)
	fmt.Fprintf(out, "state: %s  stack: %s [%s]\n", snap.State, stack.Name, strings.Join(stack.Screens, ", "))
	if snap.Profile != nil {
		p := snap.Profile
		fmt.Fprintf(out, "member: %s <%s> %s %s\n", p.FullName, p.Email, p.Role.Label(), p.StatusLabel())
	}
	if snap.Err != nil {
		fmt.Fprintf(out, "warning: %v\n", snap.Err)
	}
}

func printCard(out io.Writer, c wallet.Card) {
	fmt.Fprintf(out, "Olá, %s\n", c.FirstName)
	fmt.Fprintf(out, "%s\nCPF %s\n%s · %s · #%s\n", c.FullName, c.CPF, c.RoleLabel, c.StatusLabel, c.ShortID)
}
