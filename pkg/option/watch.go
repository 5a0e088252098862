// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package option

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/cilium/lispd/pkg/logging"
)

var log = logging.NewSubsys("option")

// WatchForValidation arranges for vp to re-read its config file on
// change and run the result through Populate/Validate, invoking onValid
// with the newly parsed Config only if it passes. An invalid reload is
// logged and otherwise ignored — this module does not hot-apply a
// reloaded config (spec §9's Open Question; see DESIGN.md), it only
// validates so an operator gets fast feedback on a bad edit before the
// next restart picks it up.
func WatchForValidation(vp *viper.Viper, onValid func(*Config)) {
	vp.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Populate(vp)
		if err != nil {
			log.Warn("rejected config reload", "file", e.Name, "error", err)
			return
		}
		log.Info("validated config reload", "file", e.Name)
		if onValid != nil {
			onValid(cfg)
		}
	})
	vp.WatchConfig()
}
