// Command example runs a small site that signs people in with IndieAuth.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"hawx.me/code/indieauth-strategy"
	"hawx.me/code/indieauth-strategy/sessions"
)

var signedOutPage = template.Must(template.New("signed-out").Parse(`<html>
  <body>
    <form action="/sign-in" method="post">
      <label for="me">Your URL:</label>
      <input id="me" name="me" placeholder="e.g. https://example.com" />
      <button type="submit">Sign-in</button>
    </form>
  </body>
</html>
`))

var signedInPage = template.Must(template.New("signed-in").Parse(`<html>
  <body>
    <p>Hello {{.}}</p>
    <a href="/sign-out">Sign-out</a>
  </body>
</html>
`))

func main() {
	var (
		configPath string
		envFile    string
	)

	root := &cobra.Command{
		Use:           "example",
		Short:         "Sign people in with IndieAuth",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("INDIEAUTH_CONFIG"), "path to a YAML config file (env INDIEAUTH_CONFIG)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of environment variables to load")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return serve(conf)
		},
	}

	discoverCmd := &cobra.Command{
		Use:   "discover <me>",
		Short: "Print the endpoints and profile declared by a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return discover(cmd.Context(), conf, args[0], os.Stdout)
		},
	}

	root.AddCommand(serveCmd, discoverCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(conf *config) error {
	logger, err := conf.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	metrics, err := indieauth.NewMetrics(reg)
	if err != nil {
		return err
	}

	strategyConfig := conf.strategyConfig()
	strategyConfig.Logger = logger
	strategyConfig.Metrics = metrics
	strategyConfig.Client = &http.Client{Timeout: 10 * time.Second}
	strategyConfig.Verify = func(ctx context.Context, me, credential string, profile any) (any, any, error) {
		if !conf.allowed(me) {
			return nil, "you are not allowed to sign in", nil
		}

		return me, nil, nil
	}

	strategy, err := indieauth.New(strategyConfig)
	if err != nil {
		return err
	}

	sess, err := sessions.New(conf.Secret, strategy)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	sess.DefaultSignedOut = http.RedirectHandler("/", http.StatusFound)

	r := mux.NewRouter()
	r.Handle("/", sess.Choose(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			me, _ := sess.SignedIn(r)
			signedInPage.Execute(w, me)
		}),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signedOutPage.Execute(w, nil)
		}),
	)).Methods(http.MethodGet)
	r.Handle("/sign-in", sess.SignIn()).Methods(http.MethodGet, http.MethodPost)
	r.Handle("/callback", sess.Callback()).Methods(http.MethodGet)
	r.Handle("/sign-out", sess.SignOut()).Methods(http.MethodGet)
	r.Handle("/me", sess.Shield(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		me, _ := sess.SignedIn(r)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"me": me})
	}))).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              conf.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("listening", zap.String("addr", conf.Addr), zap.String("client_id", strategy.Config().ClientID))
	return server.ListenAndServe()
}

type discovery struct {
	AuthorizationEndpoint string             `json:"authorization_endpoint"`
	TokenEndpoint         string             `json:"token_endpoint,omitempty"`
	Profile               *indieauth.Profile `json:"profile"`
}

func discover(ctx context.Context, conf *config, me string, w io.Writer) error {
	strategyConfig := conf.strategyConfig()
	strategyConfig.Client = &http.Client{Timeout: 10 * time.Second}

	endpoints, err := strategyConfig.FindEndpoints(ctx, me)
	if err != nil {
		return err
	}

	data, err := strategyConfig.Discover(ctx, me)
	if err != nil {
		return err
	}

	out := discovery{
		AuthorizationEndpoint: endpoints.Authorization.String(),
		Profile:               indieauth.ToProfile(data),
	}
	if endpoints.Token != nil {
		out.TokenEndpoint = endpoints.Token.String()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
