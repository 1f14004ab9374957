/*
Package log provides structured logging for Listforge built on zerolog.

Init configures the global logger once at startup; packages derive child
loggers with WithComponent and attach job or tenant context with WithJobID
and WithTenant. Console output is the default, JSON output is used when the
worker runs under a log collector.
*/
package log
