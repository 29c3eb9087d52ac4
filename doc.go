// Package parrot is a self-hosted personal-assistant runtime. It bridges a
// chat channel to an LLM-driven tool-using agent, persists conversations,
// runs scheduled autonomous tasks, and forwards selected commands to a host
// gateway for execution against native CLI tools.
//
// The root package holds the framework primitives: message routing, the
// scheduler, the JSON-file stores, and the event model. Transport adapters
// (frontend/telegram), the host gateway (gateway), the bridge session
// manager (bridge), and agent tools (tools/...) live in subpackages.
//
// The agent itself is an external collaborator behind the Agent interface;
// parrot does not care how it is implemented.
package parrot
