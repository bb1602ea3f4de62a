package config

import (
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	defaultConfigName = ".jobthroughput"
	EnvPrefix         = "JOBTHROUGHPUT"
)

// LoadConfigFile merges configuration into v from cfgFile or, when cfgFile is empty, from
// $HOME/.jobthroughput.yaml if present. Environment variables prefixed with JOBTHROUGHPUT_ override both.
func LoadConfigFile(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "error getting user home directory")
		}
		v.AddConfigPath(home)
		v.SetConfigName(defaultConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeInConfig(); err != nil {
		switch err.(type) {
		case viper.ConfigFileNotFoundError:
			// Only returned when looking for the default file, which users don't have to provide
		case *os.PathError:
			if cfgFile != "" {
				return errors.Wrapf(err, "error reading config file %s", cfgFile)
			}
		default:
			return errors.Wrapf(err, "error reading config file %s", v.ConfigFileUsed())
		}
	}
	return nil
}

// Unmarshal decodes v into config, applying the given hooks in addition to viper's default
// duration and slice hooks.
func Unmarshal(v *viper.Viper, config interface{}, hooks ...mapstructure.DecodeHookFunc) error {
	all := append([]mapstructure.DecodeHookFunc{
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	}, hooks...)
	if err := v.Unmarshal(config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(all...))); err != nil {
		return errors.Wrap(err, "error decoding configuration")
	}
	return nil
}
