package config

import "github.com/spf13/viper"

// LSLLibraryPath resolves the PYLSL_LIB environment override for the path
// to the external bus shared library, using viper's env binding so a
// future config-file entry could supply the same key without touching
// call sites.
func LSLLibraryPath() string {
	v := viper.New()
	v.SetEnvPrefix("")
	v.BindEnv("PYLSL_LIB")
	return v.GetString("PYLSL_LIB")
}
