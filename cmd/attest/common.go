package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/davidahmann/attest/core/config"
	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/logging"
	"github.com/davidahmann/attest/core/pipeline"
	"github.com/davidahmann/attest/core/sign"
)

const sourceDateEpochEnv = "SOURCE_DATE_EPOCH"

// commonFlags are accepted by every pipeline command.
type commonFlags struct {
	root       string
	auditDir   string
	distDir    string
	metricsDir string
	signingKey string
	configPath string
	jsonOutput bool
	verbose    bool
	helpFlag   bool
}

var commonValueFlags = map[string]bool{
	"root":        true,
	"audit-dir":   true,
	"dist-dir":    true,
	"metrics-dir": true,
	"signing-key": true,
	"config":      true,
}

func bindCommonFlags(flagSet *flag.FlagSet, flags *commonFlags) {
	flagSet.StringVar(&flags.root, "root", ".", "source tree root")
	flagSet.StringVar(&flags.auditDir, "audit-dir", "", "directory for manifest, signatures, SBOMs and ledger (default <root>/audit)")
	flagSet.StringVar(&flags.distDir, "dist-dir", "", "directory for packaged archives (default <root>/dist)")
	flagSet.StringVar(&flags.metricsDir, "metrics-dir", "", "directory for the trust score (default <root>/metrics)")
	flagSet.StringVar(&flags.signingKey, "signing-key", "", "hex signing key file (default <audit-dir>/signing.key)")
	flagSet.StringVar(&flags.configPath, "config", "", "project config (default <root>/.attest/config.yaml)")
	flagSet.BoolVar(&flags.jsonOutput, "json", false, "emit JSON output")
	flagSet.BoolVar(&flags.verbose, "verbose", false, "log debug detail to stderr")
	flagSet.BoolVar(&flags.helpFlag, "help", false, "show help")
}

func valueFlagsWith(names ...string) map[string]bool {
	valueFlags := make(map[string]bool, len(commonValueFlags)+len(names))
	for name, required := range commonValueFlags {
		valueFlags[name] = required
	}
	for _, name := range names {
		valueFlags[name] = true
	}
	return valueFlags
}

// invocation is everything a command needs once flags, config file and process
// environment have been resolved.
type invocation struct {
	config    config.Config
	layout    pipeline.Layout
	keySource sign.KeySource
	logger    *logrus.Entry
}

func (flags commonFlags) resolve(overrides config.Overrides) (invocation, error) {
	configPath := strings.TrimSpace(flags.configPath)
	allowMissing := false
	if configPath == "" {
		configPath = filepath.Join(flags.root, config.DefaultPath)
		allowMissing = true
	}
	file, err := config.Load(configPath, allowMissing)
	if err != nil {
		if coreerrors.CategoryOf(err) == "" {
			err = coreerrors.InvalidConfiguration("%v", err)
		}
		return invocation{}, err
	}

	overrides.Root = flags.root
	overrides.AuditDir = flags.auditDir
	overrides.DistDir = flags.distDir
	overrides.MetricsDir = flags.metricsDir
	overrides.SigningKeyPath = flags.signingKey
	if strings.TrimSpace(overrides.SourceDateEpoch) == "" {
		overrides.SourceDateEpoch = os.Getenv(sourceDateEpochEnv)
	}
	configuration, err := config.Resolve(file, overrides)
	if err != nil {
		return invocation{}, err
	}

	logger := logging.New(os.Stderr, flags.verbose)
	setCurrentCorrelationID(fmt.Sprint(logger.Data[logging.CorrelationField]))
	return invocation{
		config:    configuration,
		layout:    pipeline.NewLayout(configuration),
		keySource: keySourceFor(configuration),
		logger:    logger,
	}, nil
}

func keySourceFor(configuration config.Config) sign.KeySource {
	value, set := os.LookupEnv(configuration.SigningKeyEnv)
	return sign.KeySource{
		EnvName:  configuration.SigningKeyEnv,
		EnvValue: value,
		EnvSet:   set,
		Path:     configuration.SigningKeyPath,
	}
}

// parseCommandFlags parses arguments and rejects positionals. It returns done when
// --help was handled.
func parseCommandFlags(flagSet *flag.FlagSet, arguments []string, valueFlags map[string]bool, helpFlag *bool, usage func()) (bool, error) {
	if err := flagSet.Parse(reorderInterspersedFlags(arguments, valueFlags)); err != nil {
		return false, coreerrors.InvalidConfiguration("%v", err)
	}
	if *helpFlag {
		usage()
		return true, nil
	}
	if len(flagSet.Args()) > 0 {
		return false, coreerrors.InvalidConfiguration("unexpected positional arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	return false, nil
}

func relativeTo(layout pipeline.Layout, path string) string {
	if path == "" {
		return ""
	}
	return layout.Rel(path)
}
