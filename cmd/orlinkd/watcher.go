// SPDX-FileCopyrightText: 2026 The orlink-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// configWatcher re-applies the logging configuration when the configuration file changes. Other blocks require a
// restart.
type configWatcher struct {
	filename string
	watcher  *fsnotify.Watcher
	done     chan struct{}

	// reload is called with each successfully parsed configuration.
	reload func(tomlConfig)
}

// watchConfig starts watching the configuration file's directory, as editors tend to replace files.
func watchConfig(filename string, reload func(tomlConfig)) (cw *configWatcher, err error) {
	cw = &configWatcher{
		filename: filepath.Clean(filename),
		done:     make(chan struct{}),
		reload:   reload,
	}

	if cw.watcher, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	if err = cw.watcher.Add(filepath.Dir(cw.filename)); err != nil {
		_ = cw.watcher.Close()
		return nil, err
	}

	go cw.handler()
	return cw, nil
}

func (cw *configWatcher) handler() {
	defer close(cw.done)

	for {
		select {
		case e, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(e.Name) != cw.filename || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			conf, err := parseConfig(cw.filename)
			if err != nil {
				log.WithError(err).WithField("file", cw.filename).Warn("Ignoring invalid configuration change")
				continue
			}

			log.WithField("file", cw.filename).Info("Reloading configuration")
			cw.reload(conf)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Configuration watcher errored")
		}
	}
}

// Close the watcher and wait for its handler to finish.
func (cw *configWatcher) Close() error {
	err := cw.watcher.Close()
	<-cw.done
	return err
}
