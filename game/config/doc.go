// Package config provides table presets: a battle map image and the
// tokens placed on it when a table starts.
//
// The config package handles:
//   - Loading presets from JSON files
//   - Preset validation
//   - The built-in default preset
//   - Preset discovery and listing
//
// Preset Format:
//
// Presets are stored as JSON files in the configs directory. The file name
// without extension is the preset id:
//
//	{
//	  "name": "Goblin Cave",
//	  "description": "Two-level cave with a river",
//	  "map_image": "/defaultmap2.png",
//	  "tokens": [
//	    {"id": 1, "src": "/redmarker.png", "alt": "Red Marker", "left": 760, "top": 560}
//	  ]
//	}
//
// A preset needs a name and a map image. Token ids must be unique within
// the preset and positions must not be negative.
//
// Default Preset:
//
// The "default" preset is built in: the first stock map with red, blue,
// green and yellow markers. A default.json file in the directory replaces
// it.
//
// Usage:
//
//	manager, err := config.NewManager("configs")
//
//	// Load specific preset
//	preset, err := manager.LoadPreset("goblin-cave")
//
//	// List everything a session can use
//	presets, err := manager.ListPresets()
package config
