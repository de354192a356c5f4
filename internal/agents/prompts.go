package agents

import (
	"fmt"
	"strings"

	"sdr-agent/internal/domain"
	"sdr-agent/internal/pipeline"
)

func classifierPrompt(p Profile, state domain.State, known domain.Facts) string {
	intents := make([]string, 0, len(domain.Intents))
	for _, in := range domain.Intents {
		intents = append(intents, fmt.Sprintf("- %s: %s", in, intentHint(in)))
	}
	return strings.Join([]string{
		fmt.Sprintf("Clasificas la intención de los mensajes que recibe el agente comercial de %s.", p.CompanyName),
		"",
		"Contexto:",
		companyContext(p),
		"",
		"Intenciones válidas:",
		strings.Join(intents, "\n"),
		"",
		"Estado actual de la conversación: " + string(state),
		"Datos ya conocidos del lead: " + factsJSON(known),
		"",
		"Si el mensaje trae datos del lead (nombre, empresa, cargo, ciudad, email, problemas, presupuesto, urgencia)",
		"marca contiene_dato_extraible=true y ponlos en datos_detectados con las mismas claves que usa el extractor.",
		"",
		"Responde SOLO un objeto JSON:",
		`{"intencion_primaria": "...", "intencion_secundaria": null, "contiene_dato_extraible": false, "datos_detectados": {}, "confianza": 0.0}`,
	}, "\n")
}

func intentHint(in domain.Intent) string {
	switch in {
	case domain.IntentGreeting:
		return "saludo inicial o casual"
	case domain.IntentInterest:
		return "muestra interés en los servicios"
	case domain.IntentServiceQuestion:
		return "pregunta qué hacen o cómo funciona"
	case domain.IntentPriceQuestion:
		return "pregunta por costos o presupuestos"
	case domain.IntentObjection:
		return "expresa duda, resistencia o un problema con la propuesta"
	case domain.IntentScheduleRequest:
		return "quiere agendar una llamada o reunión"
	case domain.IntentPersonalInfo:
		return "comparte datos personales o de su empresa"
	case domain.IntentPainPoint:
		return "describe un problema o necesidad de su negocio"
	case domain.IntentNotInterested:
		return "dice que no le interesa"
	case domain.IntentOffTopic:
		return "habla de algo no relacionado"
	case domain.IntentConfirmation:
		return "confirma algo (horario, datos)"
	case domain.IntentRejection:
		return "rechaza algo propuesto"
	}
	return ""
}

func extractorPrompt(p Profile, known domain.Facts) string {
	return strings.Join([]string{
		fmt.Sprintf("Eres el extractor de datos de %s. Conviertes la conversación en datos estructurados.", p.CompanyName),
		"Extrae solo lo que el usuario dijo de forma explícita. No inventes ni supongas.",
		"",
		"Campos:",
		"- " + domain.FactName + ": nombre del contacto",
		"- " + domain.FactOrganization + ": empresa u organización",
		"- " + domain.FactRole + ": cargo (dueño, gerente, vendedor...)",
		"- " + domain.FactCity + ": ciudad",
		"- " + domain.FactContact + ": correo electrónico válido",
		"- " + domain.FactPainPoints + ": lista de frases cortas con sus problemas",
		"- " + domain.FactBudgetMin + " / " + domain.FactBudgetMax + ": enteros en COP sin puntos ni comas",
		"- " + domain.FactUrgency + ": baja | media | alta | urgente",
		"- " + domain.FactNotes + ": cualquier otro dato útil",
		"",
		"Normalización:",
		`- Montos: "15 millones" -> 15000000, "30 palos" -> 30000000, "10M" -> 10000000, "200 mil" -> 200000.`,
		`- Urgencia: "para ayer", "ya" -> urgente; "este mes", "pronto" -> alta; "sin afán", "viendo opciones" -> baja.`,
		"",
		"Datos ya conocidos (solo actualiza si hay información nueva o mejor): " + factsJSON(known),
		"",
		"Responde SOLO un objeto JSON con los campos encontrados; omite los que no aparezcan.",
	}, "\n")
}

func qualifierPrompt(p Profile, known domain.Facts, conversation string) string {
	return strings.Join([]string{
		fmt.Sprintf("Eres el calificador BANT de %s. Cada dimensión vale de 0 a 25 puntos.", p.CompanyName),
		"",
		"Budget: 25 presupuesto confirmado alto; 20 dice tener recursos; 15 pide cotización; 10 no conoce precios pero la empresa sugiere capacidad; 0 no tiene dinero o busca gratis.",
		"Authority: 25 dueño, gerente o fundador; 20 director o jefe de área; 10 empleado que busca para su jefe; 0 sin rol.",
		"Need: 25 problema urgente (pierde clientes, no da abasto); 20 quiere automatizar; 10 curiosidad general; 0 no sabe qué quiere.",
		"Timing: 25 para ya o este mes; 20 próximo mes o trimestre; 10 este año o solo mirando; 0 futuro lejano.",
		"",
		"Datos del lead: " + factsJSON(known),
		"",
		"Conversación:",
		conversation,
		"",
		"Responde SOLO un objeto JSON:",
		`{"budget_score": 0, "budget_justification": "", "authority_score": 0, "authority_justification": "", "need_score": 0, "need_justification": "", "timing_score": 0, "timing_justification": ""}`,
	}, "\n")
}

func responderPrompt(p Profile, in pipeline.ReplyInput) string {
	return strings.Join([]string{
		fmt.Sprintf("Eres el asistente virtual de %s y hablas por WhatsApp con posibles clientes.", p.CompanyName),
		"",
		"Tono: profesional y cercano, directo, con empatía comercial.",
		"",
		"Reglas:",
		"1) Máximo 3 párrafos cortos.",
		"2) Máximo 1 emoji por mensaje.",
		"3) Una sola pregunta por turno.",
		"4) Nunca des un precio fijo; usa rangos amplios y aclara que depende de la complejidad.",
		fmt.Sprintf("5) Cada turno debe acercar al lead a agendar la llamada de %d minutos.", p.ConsultationMinutes),
		"6) No hables de política, religión ni competidores, no inventes funcionalidades y no prometas resultados numéricos.",
		"",
		"Contexto:",
		companyContext(p),
		"",
		"Estado de la venta: " + string(in.State),
		"Objetivo inmediato: " + in.Objective,
		"Datos del lead: " + factsJSON(in.Facts),
		"",
		"Historial reciente:",
		transcriptOr(in.Recent, "(Nueva conversación)"),
	}, "\n")
}

func companyContext(p Profile) string {
	return strings.Join([]string{
		fmt.Sprintf("- %s construye sistemas de IA a la medida: agentes de ventas para WhatsApp, apps web con IA y automatización.", p.CompanyName),
		"- Clientes: pequeñas y medianas empresas.",
	}, "\n")
}

func transcriptOr(turns []domain.Turn, empty string) string {
	if len(turns) == 0 {
		return empty
	}
	return transcript(turns, "")
}
