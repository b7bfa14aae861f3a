package lndaddr

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ellemouton/lndaddr/zap"
	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/lnwire"
)

const (
	defaultConfigFilename = "lndaddr.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "lndaddr.log"
	defaultDataDirname    = "data"

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10

	// DefaultListen is the address the public LNURL server listens on.
	DefaultListen = "localhost:9797"

	// DefaultAdminListen is the address of the admin API.
	DefaultAdminListen = "localhost:9798"

	// DefaultMinReceivable is the global minimum amount in msat.
	DefaultMinReceivable = 0

	// DefaultMaxReceivable is the global maximum amount in msat.
	DefaultMaxReceivable = 100_000_000_000

	// DefaultDescription is used for accounts without a description.
	DefaultDescription = "Thank you :)"

	// DefaultRPCTimeout bounds a single invoice creation call.
	DefaultRPCTimeout = 30 * time.Second

	// DefaultReconnectBackoff is the delay before the invoice subscription
	// is re-established.
	DefaultReconnectBackoff = 5 * time.Second

	// DefaultRateLimit is the number of requests per second allowed per
	// client IP.
	DefaultRateLimit = 10

	// DefaultRateBurst is the burst size of the per client limiter.
	DefaultRateBurst = 20

	defaultLndHost    = "localhost:10009"
	defaultLndNetwork = "mainnet"

	// DBBackendBolt stores accounts in a bbolt file in the data dir.
	DBBackendBolt = "bolt"

	// DBBackendPostgres stores accounts in a postgres table.
	DBBackendPostgres = "postgres"
)

var (
	// DefaultAppDir is the default directory for config, data and logs.
	DefaultAppDir = btcutil.AppDataDir("lndaddr", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(DefaultAppDir, defaultConfigFilename)

	defaultLndDir = btcutil.AppDataDir("lnd", false)
)

// LndConfig holds the connection details of the lnd node.
type LndConfig struct {
	Host        string `long:"host" description:"lnd instance rpc address"`
	Network     string `long:"network" description:"network lnd is running on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" choice:"signet"`
	MacaroonDir string `long:"macaroondir" description:"Path to the directory containing all the required lnd macaroons"`
	TLSPath     string `long:"tlspath" description:"Path to lnd tls certificate"`
}

// DBConfig selects where accounts are persisted.
type DBConfig struct {
	Backend string `long:"backend" description:"The database backend to store accounts in" choice:"bolt" choice:"postgres"`
	DSN     string `long:"dsn" description:"Postgres connection string, required for the postgres backend"`
}

// Config holds the daemon configuration.
type Config struct {
	AppDir     string `long:"appdir" description:"The base directory that contains the config file, data and logs"`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `long:"datadir" description:"The directory to store the account database in"`
	LogDir     string `long:"logdir" description:"Directory to log output"`

	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`

	Listen      string `long:"listen" description:"The address the LNURL server listens on"`
	AdminListen string `long:"adminlisten" description:"The address the admin API listens on"`
	BaseURL     string `long:"baseurl" description:"The public URL the server is reachable at, e.g. https://example.com/"`

	MinReceivable uint64 `long:"minreceivable" description:"Default minimum receivable amount in msat"`
	MaxReceivable uint64 `long:"maxreceivable" description:"Default maximum receivable amount in msat"`
	Description   string `long:"description" description:"Default invoice description"`

	NostrPrivKey string        `long:"nostrprivkey" description:"Nostr private key (hex or nsec) to sign zap receipts with, zaps are disabled if unset"`
	Relays       []string      `long:"relay" description:"Relay to publish every zap receipt to, may be specified multiple times"`
	ZapRetention time.Duration `long:"zapretention" description:"How long unpaid zap invoices are tracked"`

	PublishRetries int `long:"publishretries" description:"Number of attempts to publish a zap receipt to a relay"`

	RPCTimeout       time.Duration `long:"rpctimeout" description:"Timeout of invoice creation calls to lnd"`
	ReconnectBackoff time.Duration `long:"reconnectbackoff" description:"Delay before resubscribing to lnd invoice updates"`

	RateLimit  float64 `long:"ratelimit" description:"Requests per second allowed per client IP, 0 disables rate limiting"`
	RateBurst  int     `long:"rateburst" description:"Burst size of the per client rate limit"`
	TrustProxy bool    `long:"trustproxy" description:"Use the X-Forwarded-For header to identify clients"`

	Lnd *LndConfig `group:"lnd" namespace:"lnd"`
	DB  *DBConfig  `group:"db" namespace:"db"`

	baseURL *url.URL
}

// DefaultConfig returns a config with all default values set.
func DefaultConfig() Config {
	return Config{
		AppDir:           DefaultAppDir,
		ConfigFile:       DefaultConfigFile,
		DataDir:          filepath.Join(DefaultAppDir, defaultDataDirname),
		LogDir:           filepath.Join(DefaultAppDir, defaultLogDirname),
		MaxLogFiles:      defaultMaxLogFiles,
		MaxLogFileSize:   defaultMaxLogFileSize,
		DebugLevel:       "info",
		Listen:           DefaultListen,
		AdminListen:      DefaultAdminListen,
		MinReceivable:    DefaultMinReceivable,
		MaxReceivable:    DefaultMaxReceivable,
		Description:      DefaultDescription,
		ZapRetention:     zap.DefaultRetention,
		PublishRetries:   zap.DefaultPublishRetries,
		RPCTimeout:       DefaultRPCTimeout,
		ReconnectBackoff: DefaultReconnectBackoff,
		RateLimit:        DefaultRateLimit,
		RateBurst:        DefaultRateBurst,
		Lnd: &LndConfig{
			Host:        defaultLndHost,
			Network:     defaultLndNetwork,
			MacaroonDir: filepath.Join(defaultLndDir, "data", "chain", "bitcoin", defaultLndNetwork),
			TLSPath:     filepath.Join(defaultLndDir, "tls.cert"),
		},
		DB: &DBConfig{
			Backend: DBBackendBolt,
		},
	}
}

// LoadConfig reads the config from the command line and the config file. The
// command line takes precedence.
func LoadConfig() (*Config, error) {
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// If only the app dir was changed, look for the config file in it.
	appDir := CleanAndExpandPath(preCfg.AppDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if appDir != DefaultAppDir && configFilePath == DefaultConfigFile {
		configFilePath = filepath.Join(appDir, defaultConfigFilename)
	}

	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// A missing config file is fine, a broken one isn't.
		if _, ok := err.(*flags.IniError); ok {
			return nil, err
		}

		configFileError = err
	}

	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	if configFileError != nil {
		log.Debugf("Not using config file: %v", configFileError)
	}

	return &cfg, nil
}

// ValidateConfig checks the config for sanity and normalizes it. It must be
// called before the config is handed to NewServer.
func ValidateConfig(cfg *Config) error {
	appDir := CleanAndExpandPath(cfg.AppDir)
	if appDir != DefaultAppDir {
		defaults := DefaultConfig()
		if cfg.DataDir == defaults.DataDir {
			cfg.DataDir = filepath.Join(appDir, defaultDataDirname)
		}
		if cfg.LogDir == defaults.LogDir {
			cfg.LogDir = filepath.Join(appDir, defaultLogDirname)
		}
	}
	cfg.AppDir = appDir
	cfg.DataDir = CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	baseURL, err := ParseBaseURL(cfg.BaseURL)
	if err != nil {
		return err
	}
	cfg.baseURL = baseURL
	cfg.BaseURL = baseURL.String()

	if cfg.MinReceivable > cfg.MaxReceivable {
		return fmt.Errorf("minreceivable (%d) must not be greater than "+
			"maxreceivable (%d)", cfg.MinReceivable,
			cfg.MaxReceivable)
	}

	if cfg.NostrPrivKey != "" {
		if _, _, err := zap.ParsePrivateKey(cfg.NostrPrivKey); err != nil {
			return err
		}
	}
	if cfg.NostrPrivKey == "" && len(cfg.Relays) > 0 {
		return errors.New("relays configured but no nostrprivkey set")
	}

	if cfg.RPCTimeout <= 0 {
		return errors.New("rpctimeout must be positive")
	}
	if cfg.RateLimit < 0 {
		return errors.New("ratelimit must not be negative")
	}

	if cfg.Lnd == nil {
		cfg.Lnd = DefaultConfig().Lnd
	}
	cfg.Lnd.MacaroonDir = CleanAndExpandPath(cfg.Lnd.MacaroonDir)
	cfg.Lnd.TLSPath = CleanAndExpandPath(cfg.Lnd.TLSPath)

	if cfg.DB == nil {
		cfg.DB = DefaultConfig().DB
	}
	if cfg.DB.Backend == DBBackendPostgres && cfg.DB.DSN == "" {
		return errors.New("db.dsn is required for the postgres backend")
	}

	return nil
}

// ParseBaseURL parses the public base URL, making sure it has a host and ends
// in a slash so that paths can be appended to it.
func ParseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("baseurl is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid baseurl: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid baseurl %q: scheme must be http "+
			"or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid baseurl %q: missing host", raw)
	}

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return u, nil
}

// BaseURLParsed returns the validated base URL.
func (c *Config) BaseURLParsed() *url.URL {
	u := *c.baseURL
	return &u
}

// Bounds returns the global receivable bounds.
func (c *Config) Bounds() (lnwire.MilliSatoshi, lnwire.MilliSatoshi) {
	return lnwire.MilliSatoshi(c.MinReceivable),
		lnwire.MilliSatoshi(c.MaxReceivable)
}

// LogFile returns the full path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}
