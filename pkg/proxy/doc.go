/*
Package proxy implements the IPC proxy multiplexer: a table of tunneled
sessions between remote (non-cluster) nodes and local IPC services,
correlating request/response pairs by msg_id.

The wire transport is a gorilla/websocket connection per remote node
carrying JSON-encoded Envelope values; each Envelope names one session, so
one connection multiplexes many sessions the way a real cluster-IPC proxy
multiplexes many channels over one inter-node link.
*/
package proxy
