package parse

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transiter.dev/transiter/internal/apperrors"
)

type TransfersStrategy string

const (
	TransfersDefault       TransfersStrategy = "DEFAULT"
	TransfersGroupStations TransfersStrategy = "GROUP_STATIONS"
)

// TransfersException overrides the default strategy for transfers whose two
// stops are both in StopIDs.
type TransfersException struct {
	StopIDs  []string
	Strategy TransfersStrategy
}

// TransfersConfig controls whether related top-level stops in a static feed
// are merged under a synthetic grouped station.
type TransfersConfig struct {
	DefaultStrategy TransfersStrategy
	Exceptions      []TransfersException
}

// StrategyFor returns the strategy for the unordered pair of stops.
func (c TransfersConfig) StrategyFor(stopID1, stopID2 string) TransfersStrategy {
	for _, e := range c.Exceptions {
		if slices.Contains(e.StopIDs, stopID1) && slices.Contains(e.StopIDs, stopID2) {
			return e.Strategy
		}
	}
	if c.DefaultStrategy == "" {
		return TransfersDefault
	}
	return c.DefaultStrategy
}

type transfersBlob struct {
	Strategy   string      `yaml:"strategy" validate:"omitempty,oneof=default group_stations"`
	Exceptions []yaml.Node `yaml:"exceptions"`
}

type transfersExceptionBlob struct {
	StopIDs  []string `yaml:"stop_ids" validate:"required,min=1,dive,required"`
	Strategy string   `yaml:"strategy" validate:"required,oneof=default group_stations"`
}

var blobValidator = validator.New()

// LoadTransfersConfig decodes a YAML or JSON options blob such as
//
//	{"strategy": "group_stations", "exceptions": [{"stop_ids": ["A", "B"], "strategy": "default"}]}
//
// An exception may also be a bare list of stop ids, which selects DEFAULT for
// that set. Empty input gives the zero config.
func LoadTransfersConfig(blob []byte) (TransfersConfig, error) {
	if len(strings.TrimSpace(string(blob))) == 0 {
		return TransfersConfig{}, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return TransfersConfig{}, apperrors.InvalidInputf("transfers config: %v", err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return DecodeTransfersConfig(doc.Content[0])
	}
	return DecodeTransfersConfig(&doc)
}

// DecodeTransfersConfig decodes an already parsed YAML node, as found inside a
// system configuration file.
func DecodeTransfersConfig(node *yaml.Node) (TransfersConfig, error) {
	if node == nil || node.Kind == 0 || node.Tag == "!!null" {
		return TransfersConfig{}, nil
	}
	if err := checkKeys(node, "strategy", "exceptions"); err != nil {
		return TransfersConfig{}, err
	}
	var blob transfersBlob
	if err := node.Decode(&blob); err != nil {
		return TransfersConfig{}, apperrors.InvalidInputf("transfers config: %v", err)
	}
	blob.Strategy = strings.ToLower(blob.Strategy)
	if err := blobValidator.Struct(&blob); err != nil {
		return TransfersConfig{}, validationError(err)
	}

	cfg := TransfersConfig{DefaultStrategy: strategyFromBlob(blob.Strategy)}
	for i := range blob.Exceptions {
		exception, err := decodeException(&blob.Exceptions[i])
		if err != nil {
			return TransfersConfig{}, err
		}
		cfg.Exceptions = append(cfg.Exceptions, exception)
	}
	return cfg, nil
}

func decodeException(node *yaml.Node) (TransfersException, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		var stopIDs []string
		if err := node.Decode(&stopIDs); err != nil {
			return TransfersException{}, apperrors.InvalidInputf("transfers config exception: %v", err)
		}
		return TransfersException{StopIDs: normalizeStopIDs(stopIDs), Strategy: TransfersDefault}, nil
	case yaml.MappingNode:
		if err := checkKeys(node, "stop_ids", "strategy"); err != nil {
			return TransfersException{}, err
		}
		var blob transfersExceptionBlob
		if err := node.Decode(&blob); err != nil {
			return TransfersException{}, apperrors.InvalidInputf("transfers config exception: %v", err)
		}
		blob.Strategy = strings.ToLower(blob.Strategy)
		if err := blobValidator.Struct(&blob); err != nil {
			return TransfersException{}, validationError(err)
		}
		return TransfersException{
			StopIDs:  normalizeStopIDs(blob.StopIDs),
			Strategy: strategyFromBlob(blob.Strategy),
		}, nil
	default:
		return TransfersException{}, apperrors.InvalidInputf("transfers config exception at line %d must be a list or a mapping", node.Line)
	}
}

func checkKeys(node *yaml.Node, allowed ...string) error {
	if node.Kind != yaml.MappingNode {
		return apperrors.InvalidInputf("transfers config at line %d must be a mapping", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !slices.Contains(allowed, key) {
			return apperrors.InvalidInputf("transfers config: unexpected key %q", key)
		}
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperrors.InvalidInputf("transfers config: field %s failed %q", verrs[0].Field(), verrs[0].Tag())
	}
	return apperrors.InvalidInputf("transfers config: %v", err)
}

func strategyFromBlob(s string) TransfersStrategy {
	if s == "group_stations" {
		return TransfersGroupStations
	}
	return TransfersDefault
}

func normalizeStopIDs(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
