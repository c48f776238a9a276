package mcpserver

// OutlineFormat describes the indented text format accepted by import_outline
// and produced by export_outline.
const OutlineFormat = `# TreeApp Outline Format

An outline is plain UTF-8 text with one node per line. Indentation gives the
hierarchy: a line indented deeper than the line above it is a child of that
line.

## Line structure

` + "```" + `text
<indent><name>[/] [<status>] [# <markdown>]
` + "```" + `

- **Indent**: spaces or tabs (a tab counts as two spaces). Export uses two
  spaces per level. Blank lines are ignored.
- **Name**: 1-255 characters. The characters ` + "`" + `< > : " / \ | ? *` + "`" + ` are
  forbidden, as are names made only of dots and the reserved device names
  CON, PRN, AUX, NUL, COM1-COM9 and LPT1-LPT9 (compared case-insensitively).
- **Trailing /**: marks a folder. Without it the node is a file. Only folders
  may have indented children.
- **Status** (optional, in brackets): ` + "`" + `⬜` + "`" + ` or ` + "`" + `pending` + "`" + `,
  ` + "`" + `✅` + "`" + ` or ` + "`" + `done` + "`" + `, ` + "`" + `❌` + "`" + ` or ` + "`" + `blocked` + "`" + `. Defaults to pending.
- **Markdown** (optional): everything after the first unescaped ` + "`" + `#` + "`" + ` on
  the line becomes the node's markdown.
- **Escapes**: inside a name a backslash makes the next character literal. Write
  ` + "`" + `\#` + "`" + `, ` + "`" + `\[` + "`" + ` and ` + "`" + `\]` + "`" + ` for those characters, and ` + "`" + `\ ` + "`" + ` for a
  leading or trailing space. Export escapes names this way.

## Rules

1. Imported nodes are created under ` + "`" + `parent_id` + "`" + `, or under the workspace
   root when it is omitted. The target must be a folder.
2. The whole outline is validated before anything is created; one bad line
   rejects the import.
3. Export only carries single-line markdown. Notes, code and multi-line
   markdown stay in the store.

## Example

` + "```" + `text
Release 1.2/ [⬜] # # Release checklist
  Backend/
    migrate schema [✅]
    rotate keys [❌] # blocked on #security review
  Changelog.md [⬜]
` + "```" + `
`
