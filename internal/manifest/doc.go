// Package manifest resolves a CDN index into the list of files to mirror.
//
// Resolution is two sequential requests:
//
//	GET <index>       {"default": {"cdnList": [{"url": ...}], "resources": ...,
//	                   "resourcesBasePath": ..., "version": ...}}
//	GET <cdn>/<resources>
//	                  {"resource": [{"dest": "/file.bin", "size": 1024, ...}]}
//
// Download URLs are <cdn>/<resourcesBasePath>/<dest> built by plain string
// concatenation, so "/dest" paths produce a double slash. CDNs rely on this
// and it is preserved.
package manifest
