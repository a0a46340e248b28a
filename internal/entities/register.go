package entities

import (
	"keeper/internal/client"
	"keeper/internal/entity"
)

var factories = map[string]entity.Factory[*client.Client]{
	"mod-database":      NewModDatabase,
	"tool-database":     NewToolDatabase,
	"plugin-database":   NewPluginDatabase,
	"plugin-quicklinks": NewQuickLinks,
	"aoc-viewer":        NewAOCViewer,
	"hd2-tracker":       NewHD2Tracker,
	"mnt-tracker":       NewMntTracker,
	"starboard":         NewStarboard,
	"auditor":           NewAuditor,
}

// Register every entity type of the bot
func RegisterAll(registry *entity.Registry[*client.Client]) error {
	for name, factory := range factories {
		if err := registry.RegisterEntityType(name, factory); err != nil {
			return err
		}
	}
	return nil
}
