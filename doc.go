/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package flowcore decodes NetFlow v1/v5/v7, NetFlow v9, and IPFIX export
packets into a single normalized record representation.

# Overview

Exporters speak at least five wire formats in practice, three of them
fixed-layout (v1/v5/v7) and two template-driven (v9, IPFIX/RFC 7011).
flowcore decodes all of them into "v3 records": a packed, self-describing
format where every record carries only the extensions it actually has data
for, so a bidirectional NAT flow and a plain unidirectional one cost
different numbers of bytes instead of sharing one maximal struct.

# Historical Background

This package was factored out of a larger flow-collection codebase. The
decode path used to build one typed struct per information element; that
abstraction struggled once exporters started mixing proprietary fields into
otherwise-standard templates, so it was replaced with a smaller, explicit
"sequencer": a compiled table-driven program, one instruction per template
field, that writes directly into a packed output buffer instead of
allocating a typed value per field.

TCP and UDP listeners are included because collection almost always needs
one of the two, and the per-transport framing differences (IPFIX's
multi-message TCP stream vs. one-packet-one-message UDP) are exactly the
kind of detail a library should hide.

# Data Structures

A NetFlow v9/IPFIX message contains a header followed by one or more sets:
template sets (id 0 in NetFlow v9, 2 in IPFIX), options template sets (id 1
in NetFlow v9, 3 in IPFIX), and data sets (ids 256-65535, each tied by id to
a previously received template). A Decoder
keeps a TemplateCache keyed by (observation domain, template id) so that a
data set's fields can be reinterpreted once its template is known; seeing a
data set before its template is a recoverable error (TemplateNotFound), not
cause to drop the whole message.

Legacy v1/v5/v7 packets carry no templates: every record has a fixed,
version-specific layout, decoded directly into the same v3 record shape so
that downstream code never needs to know which wire version produced a
given record.
*/
package flowcore
