// config.go: settings struct and functions to load and save pixelset settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to the log file
}

// SQLiteSettings contains settings for the SQLite datastore.
type SQLiteSettings struct {
	Enabled bool   // true to use sqlite storage
	Path    string // path to sqlite database file
}

// MySQLSettings contains settings for the MySQL datastore.
type MySQLSettings struct {
	Enabled  bool   // true to use mysql storage
	Username string // username for mysql database
	Password string // password for mysql database
	Database string // database name for mysql database
	Host     string // host for mysql database
	Port     string // port for mysql database
}

// DatastoreSettings selects and configures the sample database.
type DatastoreSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// ImportSettings contains settings for dataset directory imports.
type ImportSettings struct {
	Name       string // dataset name, defaults to the directory base name
	Type       string // "classification" or "segmentation"
	Split      string // optional split subdirectory, e.g. "train"
	DataPath   string // image subdirectory for segmentation layouts
	LabelsPath string // mask subdirectory for segmentation layouts
	Shuffle    bool   // shuffle sample order on import
}

// FetchSettings contains settings for archive downloads.
type FetchSettings struct {
	URL     string // archive URL
	Dir     string // extraction directory
	Timeout int    // download timeout in seconds
}

// TrainSettings contains settings for the fine-tuning pipeline.
type TrainSettings struct {
	Dataset           string  // dataset name to train on
	Backbone          string  // feature extractor name, e.g. "mobilenetv3_large_100"
	BackboneModelPath string  // optional path to a .tflite backbone model
	Head              string  // segmentation head, "fpn" or "linear"
	NumClasses        int     // number of segmentation classes
	BatchSize         int     // samples per batch
	ImageSize         int     // square image edge in pixels
	MaxEpochs         int     // maximum fine-tuning epochs
	LimitTrainBatches int     // cap on train batches per epoch, 0 for all
	LimitValBatches   int     // cap on validation batches, 0 for all
	Strategy          string  // finetune strategy, "freeze" or "full"
	LearningRate      float64 // SGD learning rate for the head
	Threads           int     // trainer worker count, 0 for automatic
	Checkpoint        string  // checkpoint output path
	PredictTake       int     // size of the random predict split
	PredictField      string  // dataset field to store predictions under
	MaskDir           string  // directory for emitted prediction masks
}

// WebServerSettings contains settings for the dataset viewer API.
type WebServerSettings struct {
	Enabled bool   // true to enable the viewer API
	Port    string // port for the viewer API
	Log     LogConfig
}

// SentrySettings contains settings for error telemetry, disabled by default.
type SentrySettings struct {
	Enabled bool   // opt-in only
	DSN     string // sentry DSN
}

// Settings is the root configuration for pixelset.
type Settings struct {
	Debug bool // true to enable debug output

	Main struct {
		Name string    // node name for logs
		Log  LogConfig // main log file settings
	}

	Datastore DatastoreSettings
	Import    ImportSettings
	Fetch     FetchSettings
	Train     TrainSettings
	WebServer WebServerSettings
	Sentry    SentrySettings
}

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter,
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetDefaultConfigPaths returns OS specific paths that are searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("error fetching executable path: %w", err)
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}

	var configPaths []string
	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "pixelset"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "pixelset"),
			"/etc/pixelset",
		}
	}

	return configPaths, nil
}
