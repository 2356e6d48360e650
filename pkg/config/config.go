package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/supportchat/pkg/chatapi"
	"github.com/go-go-golems/supportchat/pkg/events"
)

const (
	FlagAPIURL        = "api-url"
	FlagTimeout       = "timeout"
	FlagRedisEnabled  = "redis-enabled"
	FlagRedisAddr     = "redis-addr"
	FlagRedisGroup    = "redis-group"
	FlagRedisConsumer = "redis-consumer"
)

// Settings is the resolved configuration shared by all commands.
type Settings struct {
	APIURL  string
	Timeout time.Duration
	Events  events.Settings
}

// AddFlags registers the shared flags as persistent flags on the root command.
func AddFlags(cmd *cobra.Command) {
	def := events.DefaultSettings()
	flags := cmd.PersistentFlags()
	flags.String(FlagAPIURL, chatapi.DefaultBaseURL, "Base URL of the support assistant")
	flags.Duration(FlagTimeout, chatapi.DefaultTimeout, "Request timeout (0 disables it)")
	flags.Bool(FlagRedisEnabled, def.RedisEnabled, "Publish session events to Redis Streams")
	flags.String(FlagRedisAddr, def.RedisAddr, "Redis address host:port")
	flags.String(FlagRedisGroup, def.Group, "Redis consumer group")
	flags.String(FlagRedisConsumer, def.Consumer, "Redis consumer name")
}

// Bind wires the persistent flags and environment variables into v. The API
// URL can also be set with SUPPORTCHAT_API_URL or API_URL.
func Bind(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
		return errors.Wrap(err, "bind flags")
	}
	v.SetEnvPrefix("supportchat")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(FlagAPIURL, "SUPPORTCHAT_API_URL", "API_URL"); err != nil {
		return errors.Wrap(err, "bind api url env")
	}
	return nil
}

// Load resolves Settings from v.
func Load(v *viper.Viper) (Settings, error) {
	def := events.DefaultSettings()
	v.SetDefault(FlagAPIURL, chatapi.DefaultBaseURL)
	v.SetDefault(FlagTimeout, chatapi.DefaultTimeout)
	v.SetDefault(FlagRedisEnabled, def.RedisEnabled)
	v.SetDefault(FlagRedisAddr, def.RedisAddr)
	v.SetDefault(FlagRedisGroup, def.Group)
	v.SetDefault(FlagRedisConsumer, def.Consumer)

	s := Settings{
		APIURL:  strings.TrimSpace(v.GetString(FlagAPIURL)),
		Timeout: v.GetDuration(FlagTimeout),
		Events: events.Settings{
			RedisEnabled: v.GetBool(FlagRedisEnabled),
			RedisAddr:    v.GetString(FlagRedisAddr),
			Group:        v.GetString(FlagRedisGroup),
			Consumer:     v.GetString(FlagRedisConsumer),
		},
	}
	if s.APIURL == "" {
		s.APIURL = chatapi.DefaultBaseURL
	}
	if s.Timeout < 0 {
		return Settings{}, errors.Errorf("invalid timeout %s", s.Timeout)
	}
	if s.Events.RedisEnabled && s.Events.RedisAddr == "" {
		return Settings{}, errors.New("redis is enabled but no redis address is set")
	}
	return s, nil
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// ignored and variables already set are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// NewClient builds the assistant client described by s.
func (s Settings) NewClient(options ...chatapi.Option) (*chatapi.Client, error) {
	opts := append([]chatapi.Option{chatapi.WithTimeout(s.Timeout)}, options...)
	return chatapi.NewClient(s.APIURL, opts...)
}
