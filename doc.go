// Package loransim implements a discrete-event LoRaWAN network simulator:
// battery-powered end-devices transmitting over a stochastic radio channel
// to one or more gateways, capture and collision resolution at the PHY, a
// network server performing deduplication and ADR control, and a downlink
// scheduler honoring Class A/B/C receive-window semantics.
//
// The simulation is single-threaded and cooperative: a global min-heap
// totally orders every event by (time, type, sequence), and each event runs
// to completion before the next. All randomness flows through one explicit
// generator seeded at construction, so a run is reproducible from its seed.
package loransim
