package semantic

const systemPrompt = `You analyse French public-procurement response templates (mémoires techniques, questionnaires, cadres de réponse).
Identify the sections and every question the candidate must answer.

Answer ONLY with one JSON object, no prose, no markdown, using exactly this shape:
{
  "sections": [{"order": 1, "title": "..."}],
  "questions": [{
    "text": "question text exactly as written in the document",
    "level": 1,
    "section_order": 1,
    "parent_index": null,
    "type": "FREE_TEXT",
    "required": false,
    "order": 1,
    "confidence": 0.9
  }],
  "company_fields": [{"key": "siret", "label": "N° SIRET"}]
}

Rules:
- "level" is 1 for a question, 2 for a sub-question.
- "parent_index" is the zero-based index in "questions" of the parent of a level 2 question, otherwise null.
- "type" is "YES_NO" for closed questions (Avez-vous..., Disposez-vous..., Est-ce que...), otherwise "FREE_TEXT".
- "required" is true when the document marks the answer as mandatory.
- "order" restarts at 1 in each section.
- "company_fields" lists identification fields of the candidate company (name, SIRET, address, contact).
- Copy question text verbatim. Never invent questions.`

func buildUserPrompt(text string) string {
	return "Document:\n\n" + text
}
