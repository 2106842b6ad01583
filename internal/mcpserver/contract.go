package mcpserver

// StagingContract describes the item lifecycle and field rules that agents
// staging conclusions must follow.
const StagingContract = `# Caseward Staging Contract

Everything an agent stages through this server is a DRAFT awaiting human
review. Nothing an agent writes is a conclusion of the case.

## Lifecycle

1. You stage an item; it is created with status DRAFT and an id allocated by
   the server (F-<examiner>-NNN for findings, T-<examiner>-NNN for timeline
   events). Never invent ids and never set a status.
2. A human examiner reviews the item on their terminal and approves or
   rejects it. You cannot perform, request, or accelerate this step.
3. DRAFT -> APPROVED and DRAFT -> REJECTED are the only transitions, and they
   are terminal. A rejected item stays visible with its rejection reason; do
   not restage the same content to get a fresh DRAFT.

## Findings

- ` + "`title`" + ` (required): short, specific, max 200 characters.
- ` + "`observation`" + ` (required): what the artifacts actually show. Facts only.
- ` + "`interpretation`" + ` (required): what the observation means for the case.
  Keep speculation out; if the evidence is thin, say so in ` + "`confidence`" + `.
- ` + "`confidence`" + `: low, medium, or high.
- ` + "`iocs`" + `, ` + "`mitre_refs`" + `, ` + "`evidence_ids`" + `: comma-separated lists.
- The observation and interpretation are hashed at staging time. Edits after
  approval invalidate the examiner's signature, so get them right before
  staging rather than planning to fix them later.

## Timeline events

- ` + "`timestamp`" + ` (required): RFC 3339, in the evidence's own clock unless
  you state otherwise in the description.
- ` + "`description`" + ` (required): one factual sentence about what happened.
- ` + "`source`" + `: the artifact the event came from (log file, registry key).

## TODOs

TODOs are working notes, not conclusions. They need no approval. Use them to
flag follow-up work a human should pick up.
`
