package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher drives an additional, file-based reload path on top of the
// SIGHUP trigger (spec §4.8): the original synergys.cpp also re-read its
// configuration when the screens file changed underneath it, and viper
// already pulls in fsnotify to support exactly this through
// WatchConfig/OnConfigChange.
type Watcher struct {
	v *viper.Viper
}

// NewWatcher starts watching cfgFile (or the default search path, same
// rules as Load) and invokes onReload with a freshly parsed Config every
// time the file changes on disk. A malformed edit is logged and ignored,
// leaving the previous configuration in effect.
func NewWatcher(cfgFile string, onReload func(*Config)) (*Watcher, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("kvmd")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("config file changed on disk, reloading", "file", e.Name)
		cfg, err := Load(cfgFile)
		if err != nil {
			log.Error("file-watch reload failed, keeping current configuration", "error", err)
			return
		}
		onReload(cfg)
	})
	v.WatchConfig()

	return &Watcher{v: v}, nil
}

// Close does not stop the underlying file watch: viper's watch stays
// active for the life of the process. Close always returns nil and is
// safe to call on a nil Watcher.
func (w *Watcher) Close() error {
	return nil
}
