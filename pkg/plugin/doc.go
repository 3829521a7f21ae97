// Package plugin defines the contract every processing unit in the rtloop
// dataflow graph implements, along with the supporting pieces the engine
// needs to manage units generically: manifests describing ports and
// variables, the lifecycle state machine, a kind registry mapping plugin
// kind identifiers to factories, and a manifest catalog for out-of-tree
// plugin kinds.
//
// The contract is the capability set {Configure, Open, Process, Close}
// plus the optional Rescanner extension. Process is the real-time entry
// point: it must execute in bounded time and must not allocate. Everything
// a plugin needs at Process time is allocated during Open, sized from the
// configuration fixed by Configure.
package plugin
