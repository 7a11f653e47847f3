// Package gen writes the wrapper headers and the simulation entry point that
// let XINU sources compile against the host C library.
package gen

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/stevegt/xinusim/config"
	"github.com/stevegt/xinusim/state"
)

// EntryRename is the define applied to XINU sources so their main does not
// collide with the generated host main.
const EntryRename = "main=xinu_main"

// Generator renders the generated files for one build.
type Generator struct {
	Config config.Config
	Stamp  state.Stamp
}

type templateData struct {
	Stamp   state.Stamp
	XinuH   string
	Shimmed []string
}

// File is one generated output.
type File struct {
	Path    string
	Content string
}

// Files renders every generated file without writing anything.
func (g Generator) Files() ([]File, error) {
	c := g.Config
	data := templateData{
		Stamp:   g.Stamp,
		XinuH:   "xinu.h",
		Shimmed: redirectable,
	}

	specs := []struct {
		tmpl  *template.Template
		paths []string
	}{
		{stddefsTmpl, []string{c.StddefsH, filepath.Join(c.IncludeDir, filepath.Base(c.StddefsH))}},
		{includesTmpl, []string{c.IncludesH}},
		{preTmpl, []string{c.PreH}},
		{simTmpl, []string{c.SimHelperC}},
	}

	var files []File
	for _, s := range specs {
		var buf bytes.Buffer
		if err := s.tmpl.Execute(&buf, data); err != nil {
			return nil, errors.Wrapf(err, "render %s", s.tmpl.Name())
		}
		content := FixIncludePaths(buf.String(), c.GOOS)
		for _, p := range s.paths {
			files = append(files, File{Path: NormalizePath(p, c.GOOS), Content: content})
		}
	}
	return files, nil
}

// Generate writes every generated file and returns their paths.
func (g Generator) Generate() ([]string, error) {
	if err := state.EnsureDir(g.Config.ObjDir); err != nil {
		return nil, errors.Wrapf(err, "create %q", g.Config.ObjDir)
	}
	files, err := g.Files()
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, f := range files {
		if err := state.WriteFileAtomic(f.Path, []byte(f.Content), 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// NormalizePath rewrites separators for goos and collapses doubled ones.
func NormalizePath(path, goos string) string {
	from, to := `\`, "/"
	if goos == "windows" {
		from, to = "/", `\`
	}
	path = strings.ReplaceAll(path, from, to)
	// Keep a leading UNC or network prefix intact.
	prefix := ""
	if strings.HasPrefix(path, to+to) {
		prefix, path = to, path[1:]
	}
	for strings.Contains(path, to+to) {
		path = strings.ReplaceAll(path, to+to, to)
	}
	return prefix + path
}

var includePattern = regexp.MustCompile(`#include\s+(["<])(.*?)([">])`)

// FixIncludePaths rewrites '/' to '\' inside #include directives on Windows.
// Other platforms get content back unchanged.
func FixIncludePaths(content, goos string) string {
	if goos != "windows" {
		return content
	}
	return includePattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := includePattern.FindStringSubmatch(m)
		return "#include " + sub[1] + strings.ReplaceAll(sub[2], "/", `\`) + sub[3]
	})
}

// redirectable are the stdio functions whose XINU macro overrides are removed
// by xinu_includes.h.
var redirectable = []string{"scanf", "sscanf", "fscanf", "printf", "sprintf", "fprintf"}

var (
	stddefsTmpl = template.Must(template.New("xinu_stddefs.h").Parse(`/* xinu_stddefs.h - Minimal type definitions for XINU simulation */
/* Generated on: {{.Stamp}} */
/* By user: {{.Stamp.User}} */
#ifndef _XINU_STDDEFS_H_
#define _XINU_STDDEFS_H_

/* Version information */
#define VERSION "XINU Simulation Version 1.0"

/* Basic XINU types */
typedef unsigned char byte;
typedef int devcall;
typedef int syscall;
typedef int did32;
typedef int int32;

#endif /* _XINU_STDDEFS_H_ */
`))

	includesTmpl = template.Must(template.New("xinu_includes.h").Parse(`/* xinu_includes.h - Wrapper for XINU code compilation.
 * Generated on: {{.Stamp}} by {{.Stamp.User}}
 */
#ifndef _XINU_INCLUDES_H_
#define _XINU_INCLUDES_H_

#define _CRT_SECURE_NO_WARNINGS
#define XINU_SIMULATION

/* These must be defined before XINU inclusion */
typedef int devcall;
typedef int syscall;
typedef unsigned char byte;

/* --- Function Redirection Shims --- */
#ifdef getchar
#undef getchar
#endif
#define getchar() getchar()

#ifdef putchar
#undef putchar
#endif
#define putchar(c) putchar(c)

/* Prevent include conflicts by removing XINU's overrides */
{{- range .Shimmed}}
#ifdef {{.}}
#undef {{.}}
#endif
{{- end}}

/* Include XINU headers */
#include "{{.XinuH}}"

#endif /* _XINU_INCLUDES_H_ */
`))

	preTmpl = template.Must(template.New("xinu_pre.h").Parse(`/* Auto-generated xinu_pre.h */
#ifndef NULL
#define NULL 0
#endif
#define OK 1
#define SYSERR -1
typedef int process;
typedef int syscall;
typedef int pid32;
`))

	simTmpl = template.Must(template.New("xinu_simulation.c").Parse(`/* xinu_simulation.c - Helper functions for XINU simulation
 * Generated on: {{.Stamp}} by {{.Stamp.User}}
 */
#define _CRT_SECURE_NO_WARNINGS
#define XINU_SIM_INTERNAL

/* Do NOT include XINU's headers here to avoid type conflicts */
#include <stdio.h>
#include <stdlib.h>
#include <stdarg.h>
#include <string.h>

/* XINU's own main, renamed at compile time. */
extern int xinu_main(void) __attribute__((weak));

/* Main entry point for XINU simulation */
int main(int argc, char *argv[]) {
    int rc = 0;

    (void)argc;
    (void)argv;
    printf("XINU Simulation Starting\n");
    printf("Generated on: {{.Stamp}} by {{.Stamp.User}}\n\n");

    printf("XINU Simulation Running\n");
    if (xinu_main != NULL) {
        rc = xinu_main();
    }

    printf("XINU Simulation Completed\n");
    return rc;
}
`))
)
