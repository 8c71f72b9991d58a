// Package config loads and watches the drowseguard configuration file.
//
// Top-level types:
//   - Config{Detector, Server, Alerts, Storage, Log}: full tree parsed from YAML
//   - DetectorConfig: low_threshold, required_frames, classifier
//     (landmark|cascade|fixed), fixed_openness
//   - ServerConfig: http/grpc ports, auth, broadcast_interval, stream_ttl
//   - AuthConfig: mode (apikey|none), header, key_env, key_hash_env
//   - AlertsConfig: rules and webhook targets
//   - StorageConfig: backend (none|sqlite|postgres), path, dsn_env, queue_size
//
// Load(path) reads the YAML file, applies defaults, then validates structural
// fields (ports, enums). Detector numbers are never rejected: Settings()
// clamps them into the supported range so a bad value cannot stop detection.
//
// Watch(ctx, path, onChange) uses fsnotify to hot-reload the file. A reload
// that fails to parse is logged and the previous config stays in effect.
package config
