// Package common provides configuration and logging shared by the smatrix
// command-line tools.
//
// Key Components:
//
//   - EngineConfig: Configuration for opening a matrix, including the data
//     file, memory limit, initial table sizes and write-back mode. It converts
//     itself to smx.Options and renders a human readable summary.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger package, which the engine uses for its named loggers, and
//     provides consistent formatting across the application.
package common
