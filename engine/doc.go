// Package engine executes components inside wazero sandboxes and carries
// calls across sandbox boundaries.
//
// One Engine wraps one wazero runtime. Compiled components instantiate as
// guests; host-implemented components instantiate as builtins. Both sides
// satisfy the Sandbox interface, so callers never distinguish them.
//
// Cross-component calls never link guest code together. Each imported
// interface is backed by a bridge: a host module whose functions look up
// the calling guest, lift the arguments out of its memory, and hand the
// call to a dispatch callback installed at instantiation. The callback
// owns routing, so a guest can only ever reach the components its
// composition bound it to.
package engine
