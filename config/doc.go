// Package config loads and validates the shipstream configuration.
//
// Values are layered, later layers winning:
//
//  1. Default()
//  2. a YAML or JSON file, when a path is given
//  3. SHIPSTREAM_* environment variables
//  4. command-line flags bound with Loader.BindFlag
//
// Environment keys mirror the file structure with dots replaced by
// underscores:
//
//	SHIPSTREAM_UPSTREAM_API_KEY=...
//	SHIPSTREAM_STORAGE_BACKEND=postgres
//	SHIPSTREAM_PERSISTENCE_FLUSH_INTERVAL=1m
//	SHIPSTREAM_UPSTREAM_BOUNDING_BOXES='[[[50,-10],[60,5]]]'
//
// Durations use Go duration syntax. List values such as
// upstream.mmsi_filter accept a comma separated string.
//
// Config files are read with size and path checks; only .yaml, .yml and .json
// files are accepted.
//
// Example file:
//
//	upstream:
//	  api_key: my-key
//	  bounding_boxes:
//	    - [[50, -10], [60, 5]]
//	persistence:
//	  flush_interval: 5m
//	  retention: 24h
//	storage:
//	  backend: sqlite
//	  sqlite:
//	    path: /var/lib/shipstream/ships.db
package config
