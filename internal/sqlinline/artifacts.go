package sqlinline

const QCreateArtifactsTable = `--sql 555c34a2-b4c8-4ad2-8d91-ca96a8b91adf
create table if not exists artifacts (
  id                uuid primary key,
  provider          text not null,
  canonical_key     text not null,
  raw_prompts       text[] not null default '{}',
  artifact_location text not null,
  provider_id       text not null default '',
  created_at        timestamptz not null default now(),
  updated_at        timestamptz not null default now(),
  unique (provider, canonical_key)
);
`

// QFindArtifact implements the containment lookup: exact key first, then the
// most recently updated record whose key or any seen prompt contains, or is
// contained in, the incoming prompt. An empty prompt restricts it to the key.
const QFindArtifact = `--sql 0500ce00-7fbb-48e6-8931-ab0807dc261d
with input as (
  select $1::text as provider, lower(trim($2::text)) as key, lower(trim($3::text)) as prompt
)
select a.id, a.provider, a.canonical_key, a.raw_prompts, a.artifact_location, a.provider_id, a.created_at, a.updated_at
from artifacts a, input i
where a.provider = i.provider
  and (
    (i.key <> '' and a.canonical_key = i.key)
    or (i.prompt <> '' and a.canonical_key <> '' and (strpos(i.prompt, a.canonical_key) > 0 or strpos(a.canonical_key, i.prompt) > 0))
    or (i.prompt <> '' and exists (
      select 1
      from unnest(a.raw_prompts) as p(seen)
      where trim(p.seen) <> ''
        and (strpos(i.prompt, lower(trim(p.seen))) > 0 or strpos(lower(trim(p.seen)), i.prompt) > 0)
    ))
  )
order by (a.canonical_key = i.key) desc, a.updated_at desc
limit 1;
`

const QUpsertArtifact = `--sql 006d4a9a-0594-414a-aeee-5b3aa1012714
insert into artifacts(id, provider, canonical_key, raw_prompts, artifact_location, provider_id)
values ($1::uuid, $2::text, lower(trim($3::text)), $4::text[], $5::text, $6::text)
on conflict (provider, canonical_key) do update
set artifact_location = excluded.artifact_location,
    provider_id       = coalesce(nullif(excluded.provider_id, ''), artifacts.provider_id),
    raw_prompts       = (
      select coalesce(array_agg(d.seen order by d.ord), '{}')
      from (
        select distinct on (lower(trim(p.seen))) p.seen, p.ord
        from unnest(artifacts.raw_prompts || excluded.raw_prompts) with ordinality as p(seen, ord)
        where trim(p.seen) <> ''
        order by lower(trim(p.seen)), p.ord
      ) d
    ),
    updated_at        = now()
returning id, provider, canonical_key, raw_prompts, artifact_location, provider_id, created_at, updated_at;
`

const QListArtifacts = `--sql c5ec041b-c6e3-4457-b19b-ae911e9f4a6f
select id, provider, canonical_key, raw_prompts, artifact_location, provider_id, created_at, updated_at
from artifacts
where provider = $1::text
order by updated_at desc
limit $2::int;
`
