// Package infra contains the adapters to third-party systems: the gonum
// MILP backend, price sources, run log stores, metrics sinks, the MQTT
// client and Sentry monitoring. These packages depend only on the
// interfaces defined in the core packages.
package infra
