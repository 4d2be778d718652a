// Package confloader loads segmesh configuration with koanf and watches
// configuration files with fsnotify.
//
// Sources, later ones overriding earlier:
//
//  1. Defaults already present in the target struct
//  2. The YAML configuration file
//  3. Environment variables (SEGMESH_SECTION_KEY)
//
// In environment names an underscore separates sections and a double
// underscore is a literal underscore, so SEGMESH_OSEG_CACHE__SIZE sets
// oseg.cache_size. Hyphenated top-level keys are reached through aliases.
// Comma-separated values fill list fields.
package confloader
