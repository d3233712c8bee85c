// Package inject keeps plugin programs mounted on renderer contexts.
//
// A unit names a behavior from the program registry plus the config
// snapshot it runs with. The injector tracks one marker per
// (plugin, context) pair recording the document epoch the program was
// started against. Triggers layered over the page lifecycle
// (content-loaded, short delayed retries, navigation settling, optional
// periodic reassertion) re-check markers and restart programs whose
// document is gone, so injection converges without ever doubling up.
package inject
