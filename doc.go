// Package cew is a lab orchestrator for cyber/electromagnetic-warfare
// training environments.
//
// # Overview
//
// CEW materializes isolated, ephemeral container networks from declarative
// scenario topologies, supervises their health and resource usage, and
// guarantees teardown of everything it creates. Labs never reach external
// networks: every network is internal, every container runs with all
// capabilities dropped.
//
// The platform consists of three main components:
//   - HTTP Facade: REST API and WebSocket monitoring endpoint
//   - Orchestrator Core: lab lifecycle, registry and supervision
//   - Container Backend: Docker daemon or in-process simulation
//
// # Architecture
//
//	┌─────────────────┐
//	│  HTTP Facade    │
//	│ (Echo REST/WS)  │
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐       ┌─────────────────┐
//	│  Orchestrator   │◄──────┤  Supervisor /   │
//	│  (Lifecycle)    │       │  Broadcaster    │
//	└────────┬────────┘       └─────────────────┘
//	         │
//	┌────────▼────────┐
//	│    Backend      │
//	│ (Docker / Sim)  │
//	└─────────────────┘
//
// # Core Features
//
// Safety Validation:
//   - Air-gap constraints rejected before any resource exists
//   - Topology consistency checks (subnets, hostnames, static IPs)
//
// Lab Lifecycle:
//   - One active lab per scenario, enforced atomically
//   - Networks-then-containers materialization, reverse-order teardown
//   - Global kill-switch that always runs to completion
//
// Monitoring:
//   - Per-container health and resource usage polling
//   - WebSocket streams with bounded, drop-oldest subscriber queues
//
// Backend Selection:
//   - Docker daemon probed at startup
//   - Silent fallback to a no-I/O simulation backend
//
// # Usage
//
// Start the orchestrator:
//
//	cew server --config configs/config.yaml
//
// Validate a scenario file without activating it:
//
//	cew validate scenario.yaml
package cew
