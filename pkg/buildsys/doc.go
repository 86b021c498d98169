// Package buildsys implements a minimal build system which uses Starlark for the task declarations
// and mvdan.cc/sh for the shell runtime.
//
// Besides shell commands, tasks can run the site pipeline actions: styles() bundles style sheets, webp()
// converts images, anchors() adds heading links to rendered pages and watch() reruns a task whenever its
// sources change. Task names are unique: declaring a name twice is an error unless the second declaration
// passes override=True.
package buildsys
