package activities

import (
	"fmt"
	"strings"

	"github.com/openreport-ai/orchestrator/internal/run"
)

// Prompt builders for the research pipeline. Each returns the system
// instruction for one model call; the paired user message is short and
// fixed at the call site.

func languageSuffix(language string) string {
	if language == "" {
		return ""
	}
	return fmt.Sprintf("\n\nPlease respond in **%s** language.", language)
}

func planningQueriesPrompt(topic, reportStructure string, numberOfQueries int, provider run.ProviderKind, language string) string {
	return fmt.Sprintf(`You are performing research for a report.

<Report topic>
%s
</Report topic>

<Report organization>
%s
</Report organization>

<Task>
Your goal is to generate %d %s search queries that will help gather information for planning the report sections.

The queries should:

1. Be related to the Report topic
2. Help satisfy the requirements specified in the report organization

Make the queries specific enough to find high-quality, relevant sources while covering the breadth needed for the report structure.

Respond with a JSON object: {"queries": ["...", "..."]}
</Task>`, topic, reportStructure, numberOfQueries, provider) + languageSuffix(language)
}

func providerDescriptionList(providers []run.ProviderKind) string {
	lines := make([]string, 0, len(providers))
	for _, p := range providers {
		lines = append(lines, fmt.Sprintf("- %s: %s", p, run.ProviderDescriptions[p]))
	}
	return strings.Join(lines, "\n  ")
}

func providerNameList(providers []run.ProviderKind) string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}

func plannerPrompt(topic, reportStructure, context, feedback string, available []run.ProviderKind, isQuestion bool, language string) string {
	if isQuestion {
		return questionPlannerPrompt(topic, reportStructure, context, available, language)
	}
	return fmt.Sprintf(`I want a plan for a report that is concise and focused.

<Report topic>
The topic of the report is:
%s
</Report topic>

<Report organization>
The report should follow this organization:
%s
</Report organization>

<Context>
Here is context to use to plan the sections of the report:
%s
</Context>

<Available search providers>
The following search providers are available for this report:
%s
</Available search providers>

<Task>
Generate a list of sections for the report. Your plan should be tight and focused with NO overlapping sections or unnecessary filler.

**caution: do not include `+"`introduction`"+` and `+"`conclusion`"+` sections in the plan.**

Each section should have the fields:

- name - Name for this section of the report.
- description - Brief overview of the main topics covered in this section.
- search_options - List of search providers to use for this section. Choose from the available providers listed above.
  %s

Choose appropriate search options based on the section topic and available search providers. Always include at least one search provider for each section.

Integration guidelines:
- Include examples and implementation details within main topic sections, not as separate sections
- Ensure each section has a distinct purpose with no content overlap
- Combine related concepts rather than separating them

Respond with a JSON object: {"sections": [{"name": "...", "description": "...", "search_options": ["..."]}]}
</Task>

<Feedback>
Here is feedback on the report structure from review (if any):
%s
</Feedback>`, topic, reportStructure, context, providerNameList(available), providerDescriptionList(available), feedback) + languageSuffix(language)
}

func questionPlannerPrompt(topic, reportStructure, context string, available []run.ProviderKind, language string) string {
	return fmt.Sprintf(`You are helping to plan a research report that answers a specific question.

<User Question>
%s
</User Question>

<Report organization>
%s
</Report organization>

<Context>
%s
</Context>

<Available search providers>
The following search providers are available for this report:
%s
</Available search providers>

<Task>
Create a plan for a report that will effectively answer the user's question. The plan should include sections that, when combined, will provide a comprehensive answer.

1. Analyze the question to identify key components that need to be addressed
2. Design logical sections that progress toward answering the question
3. Ensure no critical aspects are omitted
4. Exclude any "conclusion" section - this will be generated separately
5. Focus on gathering factual information needed to answer the question

Each section should have the fields:
- name - Name for this section of the report
- description - Brief overview of what this section will explore and how it contributes to answering the question
- search_options - List of search providers to use for this section. Choose from the available providers listed above.
  %s

Do NOT include "Introduction" or "Conclusion" sections in the plan.

Respond with a JSON object: {"sections": [{"name": "...", "description": "...", "search_options": ["..."]}]}
</Task>`, topic, reportStructure, context, providerNameList(available), providerDescriptionList(available)) + languageSuffix(language)
}

// providerQueryHints steer query phrasing per search capability.
var providerQueryHints = map[run.ProviderKind]string{
	run.ProviderWeb: `- web (general web search):
  * Create queries with broad, comprehensive keyword coverage
  * Combine multiple related concepts so they work as an AND search
  * Example: "quantum computing algorithm optimization"`,
	run.ProviderAcademic: `- academic (paper and preprint search):
  * Focus on academic terminology and research concepts
  * Include precise field terminology and key author names where relevant
  * Avoid generic words like "paper" or "study"
  * Example: "quantum error correction superconducting qubits"`,
	run.ProviderPatent: `- patent (patent full-text search):
  * This is a full-text search; keep queries to 3-4 words
  * Include only the most important technical keywords
  * Never include the word "patent" itself
  * Example: "optical lattice clock strontium"`,
	run.ProviderLocal: `- local (full-text search over local documents):
  * Short keyword phrases work best
  * Avoid long queries; aim for 3-5 words
  * Example: "neural network design"`,
}

func sectionQueriesPrompt(topic, sectionTopic string, provider run.ProviderKind, numberOfQueries int, language string) string {
	return fmt.Sprintf(`You are an expert technical writer crafting targeted search queries that will gather comprehensive information for writing a technical report section.

<Report topic>
%s
</Report topic>

<Section topic>
%s
</Section topic>

<Search provider>
%s
</Search provider>

<Task>
Your goal is to generate %d search queries that will help gather comprehensive information about the section topic, specifically optimized for the %s search provider.

Customize your queries based on the search provider:

%s

The queries should:
1. Be related to the topic
2. Examine different aspects of the topic
3. Use terminology and structure appropriate for the search provider

Make the queries specific enough to find high-quality, relevant sources.

Respond with a JSON object: {"queries": ["...", "..."]}
</Task>`, topic, sectionTopic, provider, numberOfQueries, provider, providerQueryHints[provider]) + languageSuffix(language)
}

const citationRules = `<Citation Rules>
- Use inline citations by embedding links in Markdown format: ` + "`[text](URL)`" + `.
- Each citation should directly correspond to a source URL.
- For **local documents (not website link URLs)**, **do not** embed the citation as a link. Instead, include only the reference text.
- Avoid using superscript numbers ` + "`[1]`, `[2]`" + `, etc., as they can make the text harder to read.
- Ensure all citations are naturally integrated into the sentence.
</Citation Rules>`

func sectionWriterPrompt(maxWords int) string {
	return fmt.Sprintf(`Write one section of a research report.

<Task>
1. Review the report topic, section name, and section topic carefully.
2. If present, review any existing section content.
3. Then, look at the provided Source material.
4. Decide the sources that you will use it to write a report section.
5. Write the report section with inline citations.
</Task>

<Writing Guidelines>
- If existing section content is not populated, write from scratch
- If existing section content is populated, synthesize it with the source material
- Maximum word count: about %d
- Use simple, clear language
- Use short paragraphs (2-3 sentences max)
- Use ## for section title (Markdown format)
</Writing Guidelines>

%s

<Final Check>
1. Verify that EVERY claim is grounded in the provided Source material and has an appropriate citation
2. Confirm each citation is used correctly and corresponds to the right source
3. Verify that citations are naturally integrated into the text
</Final Check>`, maxWords, citationRules)
}

func sectionWriterInputs(topic, sectionName, sectionTopic, existingContent, context string) string {
	return fmt.Sprintf(`
<Report topic>
%s
</Report topic>

<Section name>
%s
</Section name>

<Section topic>
%s
</Section topic>

<Existing section content (if populated)>
%s
</Existing section content>

<Source material>
%s
</Source material>`, topic, sectionName, sectionTopic, existingContent, context)
}

func sectionGraderPrompt(topic, sectionTopic, sectionContent string, followUpQueries int) string {
	return fmt.Sprintf(`Review a report section relative to the specified topic:

<Report topic>
%s
</Report topic>

<section topic>
%s
</section topic>

<section content>
%s
</section content>

<task>
Evaluate whether the section content adequately addresses the section topic.

If the section content does not adequately address the section topic, generate %d follow-up search queries to gather missing information.
</task>

<format>
Respond with a JSON object: {"grade": "pass" or "fail", "follow_up_queries": ["...", "..."]}
If the grade is "pass", return an empty follow_up_queries list.
</format>`, topic, sectionTopic, sectionContent, followUpQueries)
}

func deepResearchPlannerPrompt(topic, sectionName, sectionContent string, currentDepth, breadth int, providers []run.ProviderKind, language string) string {
	return fmt.Sprintf(`You are a research planner. Analyze the section content below and identify %d subtopics worth exploring in more depth.

<Report Topic>
%s
</Report Topic>

<Section Name>
%s
</Section Name>

<Section Content>
%s
</Section Content>

<Current Depth>
%d
</Current Depth>

<Available search providers>
%s
</Available search providers>

<Task>
Identify %d specific subtopics that would deepen this section. For each subtopic provide:
1. The subtopic name
2. Why this subtopic matters
3. The specific aspects or questions to investigate

Subtopics must not overlap with each other and must dig deeper into the existing section content.
Each subtopic should be precise and concrete.

Respond with a JSON object: {"subtopics": [{"name": "...", "description": "..."}]}
</Task>`, breadth, topic, sectionName, sectionContent, currentDepth, providerNameList(providers), breadth) + languageSuffix(language)
}

func deepResearchQueriesPrompt(topic, sectionName, subtopicName, subtopicDescription string, provider run.ProviderKind, numberOfQueries int, language string) string {
	return fmt.Sprintf(`You are an expert at writing search queries. Generate queries that gather detailed information about the subtopic below.

<Report Topic>
%s
</Report Topic>

<Section Name>
%s
</Section Name>

<Subtopic>
Name: %s
Description: %s
</Subtopic>

<Search Provider>
%s
</Search Provider>

<Task>
Generate %d search queries that dig deeply into this subtopic. The queries should:
1. Be specific and unambiguous
2. Cover different aspects of the subtopic
3. Be likely to return recent, detailed information on the subject
4. Be optimized for the %s search provider

%s

Each query must stand on its own and find high-quality sources.

Respond with a JSON object: {"queries": ["...", "..."]}
</Task>`, topic, sectionName, subtopicName, subtopicDescription, provider, numberOfQueries, provider, providerQueryHints[provider]) + languageSuffix(language)
}

func deepResearchWriterPrompt(topic, sectionName, subtopic, searchResults string, maxWords int, language string) string {
	return fmt.Sprintf(`You are an expert technical writer. Use the information below to write one subsection of a report.

<Report Topic>
%s
</Report Topic>

<Main Section>
%s
</Main Section>

<Subtopic>
%s
</Subtopic>

<Search Results>
%s
</Search Results>

<Task>
Write a detailed subsection about this subtopic based on the provided search results.
The subsection should:
1. Be Markdown, starting with a ### level header (the subsection title)
2. Use clear, concise language
3. Present facts grounded in the search results
4. Cite sources inline following the rules below
5. Stay within about %d words

%s

The subsection must read as part of the surrounding section. Do not include a
reference list or a "Sources" section; embed all citations inline.
</Task>`, topic, sectionName, subtopic, searchResults, maxWords, citationRules) + languageSuffix(language)
}

func introductionQueriesPrompt(topic string, numberOfQueries int, provider run.ProviderKind, language string) string {
	return fmt.Sprintf(`You are performing research for a report introduction.

<Report topic>
%s
</Report topic>

<Task>
Your goal is to generate %d %s search queries that will help gather information for writing an introduction to the report.

The queries should:
1. Be related to the Report topic
2. Help gather background information and context on the topic
3. Focus on getting high-level overview information

Make the queries specific enough to find high-quality, relevant sources while focusing on introductory content.

Respond with a JSON object: {"queries": ["...", "..."]}
</Task>`, topic, numberOfQueries, provider) + languageSuffix(language)
}

func introductionWriterPrompt(topic, context string, maxWords int, language string) string {
	return fmt.Sprintf(`Write an introduction for a research report.

<Report topic>
%s
</Report topic>

<Source material>
%s
</Source material>

<Task>
Use the provided source material to write an introduction for a report on the given topic.

Your introduction should:
1. Provide background context on the topic
2. Establish why the topic is important or relevant
3. Briefly outline the scope of the report
4. Be concise (about %d words)
5. Use clear, engaging language

Reference sources inline according to the citation rules.

%s

</Task>`, topic, context, maxWords, citationRules) + languageSuffix(language)
}

func conclusionWriterPrompt(topic string, isQuestion bool, sectionsContent string, maxWords int, language string) string {
	return fmt.Sprintf(`You are an expert technical writer tasked with creating a conclusion for a research report.

<Report topic>
%s
</Report topic>

<Is topic a question>
%t
</Is topic a question>

<Section content>
%s
</Section content>

<Task>
Your task depends on whether the report topic is a question:

If the topic is a question (is_question=true):
1. Synthesize the information from all sections to provide a clear, direct answer to the question.
2. Ensure your answer is well-supported by the content in the sections.
3. Keep your answer concise, focusing on the most relevant information.
4. Stay within about %d words.

If the topic is not a question (is_question=false):
1. Summarize the key findings and insights from all sections of the report.
2. Aim to provide a cohesive synthesis rather than just repeating section summaries.
3. Include one structural element (either a bullet list or a small table) that distills the main points.
4. Stay within about %d words.

In both cases:
- Use clear, direct language
- Focus on the most important information
- Be objective and evidence-based

%s
</Task>`, topic, isQuestion, sectionsContent, maxWords, maxWords, citationRules) + languageSuffix(language)
}
