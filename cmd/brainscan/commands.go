package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rewired-gh/brainscan/internal/api"
	"github.com/rewired-gh/brainscan/internal/history"
	"github.com/rewired-gh/brainscan/internal/logger"
	"github.com/rewired-gh/brainscan/internal/models"
	"github.com/rewired-gh/brainscan/internal/session"
	"github.com/spf13/pflag"
)

func (a *app) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	username := fs.StringP("username", "u", "", "Username")
	password := fs.StringP("password", "p", "", "Password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := a.session.Login(ctx, api.Credentials{Username: *username, Password: *password})
	if err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", displayName(*user))
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	var p api.Profile
	fs.StringVar(&p.Username, "username", "", "Username")
	fs.StringVar(&p.Email, "email", "", "Email address")
	fs.StringVar(&p.Password, "password", "", "Password")
	fs.StringVar(&p.FullName, "full-name", "", "Full name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msg, err := a.session.Register(ctx, p)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	a.session.Logout(ctx)
	fmt.Println("Logged out")
	return nil
}

func (a *app) whoami() error {
	sess, _ := a.session.Snapshot()
	u := sess.User()
	if u == nil {
		fmt.Println("Not logged in")
		return nil
	}
	fmt.Printf("%s\n", displayName(*u))
	if u.Email != "" {
		fmt.Printf("  Email: %s\n", u.Email)
	}
	if u.Role != "" {
		fmt.Printf("  Role:  %s\n", u.Role)
	}
	return nil
}

func (a *app) predict(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return &api.ValidationError{Message: "usage: predict FILE"}
	}
	file, err := models.ReadImageFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if err := a.single.Select(file); err != nil {
		return err
	}

	res, err := a.single.Submit(ctx)
	if err != nil {
		return loginHint(err)
	}
	printPrediction(*res)
	return nil
}

func (a *app) debug(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return &api.ValidationError{Message: "usage: debug FILE"}
	}
	file, err := models.ReadImageFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}
	if err := a.single.Select(file); err != nil {
		return err
	}

	body, err := a.single.Debug(ctx)
	if err != nil {
		return err
	}
	printJSON(body)
	return nil
}

func (a *app) runBatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return &api.ValidationError{Message: "usage: batch FILE..."}
	}
	files := make([]models.ImageFile, 0, len(args))
	for _, path := range args {
		f, err := models.ReadImageFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		files = append(files, f)
	}
	if err := a.batch.SelectBatch(files); err != nil {
		return err
	}

	set, err := a.batch.SubmitBatch(ctx)
	if err != nil {
		return loginHint(err)
	}
	printBatch(*set)
	return nil
}

func (a *app) showHistory(ctx context.Context) error {
	sess, _ := a.session.Snapshot()
	if !sess.IsAuthenticated() {
		return loginHint(session.ErrNotAuthenticated)
	}
	// Restore already refreshed once; refresh again only if that left nothing behind.
	if a.history.RefreshedAt().IsZero() {
		if err := a.history.Refresh(ctx); err != nil {
			if errors.Is(err, session.ErrSessionExpired) {
				return err
			}
			logger.Warn("History partially unavailable: %v", err)
		}
	}
	printHistory(a.history.Entries(), a.history.Analytics())
	return nil
}

func (a *app) showSystem(ctx context.Context) error {
	info, err := a.system.Load(ctx)
	if err != nil {
		logger.Warn("System info partially unavailable: %v", err)
	}
	printSystemInfo(info)
	return nil
}

func (a *app) showCharts(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("charts", pflag.ContinueOnError)
	out := fs.String("out", "", "Directory to write chart PNGs to")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set, err := a.charts.Load(ctx)
	if err != nil {
		logger.Warn("Charts partially unavailable: %v", err)
	}
	printCharts(set)

	if *out == "" {
		return nil
	}
	if err := os.MkdirAll(*out, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for name := range set.Charts {
		if !history.SafeChartName(name) {
			logger.Warn("Skipping chart with unsafe name %q", name)
			continue
		}
		data, err := history.DecodeChart(set, name)
		if err != nil {
			return err
		}
		path := filepath.Join(*out, name+".png")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write chart: %w", err)
		}
		fmt.Printf("Saved %s\n", path)
	}
	return nil
}

func loginHint(err error) error {
	if errors.Is(err, session.ErrNotAuthenticated) {
		return errors.New("Please login first (brainscan login -u USER -p PASSWORD)")
	}
	return err
}

func displayName(u models.User) string {
	if u.FullName != "" {
		return fmt.Sprintf("%s (%s)", u.FullName, u.Username)
	}
	return u.Username
}
