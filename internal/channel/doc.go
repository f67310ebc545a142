// Package channel defines the uniform adapter contract for messaging
// networks and the manager that owns their lifecycle.
//
// Each adapter (WhatsApp, Telegram, Matrix) embeds Hub, which provides
// the handler registries and the connection state machine. Adapters are
// responsible for protocol-level filtering: group and broadcast traffic
// never reaches the core, self-sent echoes go to the from-me pathway,
// and media is classified into the shared media types. The Manager fans
// connect and disconnect out in parallel so one failing network never
// delays the others.
package channel
