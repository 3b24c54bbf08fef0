/*
Package templating provides a small filesystem-based html/template engine for
the Lyrebird web front end.

Full pages are loaded from "*.tmpl.html" files and shared fragments from
"*.part.html" files in a single directory. Refresh re-parses the directory, so
templates can be edited while the server runs. A handful of helper functions
(lines, nonEmpty, truncate, siteTitle) make it easy to render generated text,
which arrives as a single string, as a list of lines.
*/
package templating
