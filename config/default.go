package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"sigs.k8s.io/kustomize/kyaml/yaml"
	"sigs.k8s.io/kustomize/kyaml/yaml/merge2"
	"sigs.k8s.io/kustomize/kyaml/yaml/walk"

	"github.com/brightcandlelight/trustbase-linux/utils"
)

// defaultConfig is the YAML seed for a fresh interceptor config: New reads
// it directly, MergedYAML layers a user's config file over it.
var defaultConfig = `
path: ""
debug: false
disableANSI: false
configPath: ""
bypassRules: []
log:
  level: "info"
  path: ""
policy:
  address: ""
  caBundlePath: ""
  congressThreshold: 0.5
hook:
  bufferPages: 8
  objectPath: ""
shutdownGracePeriod: 5s
`

func GetDefaultConfig() string {
	return defaultConfig
}

// New builds the boot-time config from the built-in YAML defaults. Config
// file and flag overrides are layered on top later, once the command line
// has been parsed (cmd.loadConfig).
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read default config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// MergedYAML loads the YAML config file at path and structurally merges it
// over the built-in defaults, returning the combined document for viper to
// read. The path may start with "~"; a missing file is an error, an empty
// one merges to the defaults unchanged.
func MergedYAML(path string) (string, error) {
	expanded, err := utils.ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := utils.GetAbsPath(expanded)
	if err != nil {
		return "", err
	}

	exists, err := utils.FileExists(abs)
	if err != nil {
		return "", fmt.Errorf("failed to check config file %q: %w", abs, err)
	}
	if !exists {
		return "", fmt.Errorf("config file %q does not exist", abs)
	}
	if empty, err := utils.IsFileEmpty(abs); err != nil {
		return "", err
	} else if empty {
		return GetDefaultConfig(), nil
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read config file %q: %w", abs, err)
	}
	merged, err := Merge(string(raw), GetDefaultConfig())
	if err != nil {
		return "", fmt.Errorf("failed to merge config file %q over defaults: %w", abs, err)
	}
	return merged, nil
}

// Merge combines two YAML documents, src's values winning over dest's,
// using a kustomize-kyaml structural merge rather than a flat key
// overwrite, so nested fields like bypassRules/log/policy survive a
// partial override file.
func Merge(srcStr, destStr string) (string, error) {
	return mergeStrings(srcStr, destStr, false, yaml.MergeOptions{})
}

// Reference: https://github.com/kubernetes-sigs/kustomize/blob/537c4fa5c2bf3292b273876f50c62ce1c81714d7/kyaml/yaml/merge2/merge2.go#L24
// VisitKeysAsScalars is set to true to enable merging comments.
// inferAssociativeLists is set to false to disable merging associative lists.
func mergeStrings(srcStr, destStr string, infer bool, mergeOptions yaml.MergeOptions) (string, error) {
	src, err := yaml.Parse(srcStr)
	if err != nil {
		return "", err
	}

	dest, err := yaml.Parse(destStr)
	if err != nil {
		return "", err
	}

	result, err := walk.Walker{
		Sources:               []*yaml.RNode{dest, src},
		Visitor:               merge2.Merger{},
		InferAssociativeLists: infer,
		VisitKeysAsScalars:    true,
		MergeOptions:          mergeOptions,
	}.Walk()
	if err != nil {
		return "", err
	}

	return result.String()
}
