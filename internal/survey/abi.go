package survey

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const surveyABIJSON = `[
  {"type":"function","name":"surveyInfo","stateMutability":"view","inputs":[],"outputs":[
    {"name":"creator","type":"address"},
    {"name":"title","type":"string"},
    {"name":"description","type":"string"},
    {"name":"startTime","type":"uint256"},
    {"name":"endTime","type":"uint256"},
    {"name":"maxParticipants","type":"uint256"},
    {"name":"currentParticipants","type":"bytes32"},
    {"name":"privacyLevel","type":"uint8"},
    {"name":"allowMultipleSubmissions","type":"bool"},
    {"name":"active","type":"bool"}]},
  {"type":"function","name":"getQuestionCount","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"uint256"}]},
  {"type":"function","name":"getQuestion","stateMutability":"view","inputs":[
    {"name":"index","type":"uint256"}],"outputs":[
    {"name":"questionText","type":"string"},
    {"name":"questionType","type":"uint8"},
    {"name":"options","type":"string[]"},
    {"name":"required","type":"bool"}]},
  {"type":"function","name":"getOptionCount","stateMutability":"view","inputs":[
    {"name":"questionIndex","type":"uint256"},
    {"name":"optionIndex","type":"uint256"}],"outputs":[
    {"name":"","type":"bytes32"}]},
  {"type":"function","name":"submitAnswers","stateMutability":"nonpayable","inputs":[
    {"name":"answerHandles","type":"bytes32[]"},
    {"name":"inputProof","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"allowResultsDecryption","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const factoryABIJSON = `[
  {"type":"function","name":"createSurvey","stateMutability":"nonpayable","inputs":[
    {"name":"title","type":"string"},
    {"name":"description","type":"string"},
    {"name":"startTime","type":"uint256"},
    {"name":"endTime","type":"uint256"},
    {"name":"maxParticipants","type":"uint256"},
    {"name":"privacyLevel","type":"uint8"},
    {"name":"allowMultiple","type":"bool"},
    {"name":"questions","type":"tuple[]","components":[
      {"name":"questionText","type":"string"},
      {"name":"questionType","type":"uint8"},
      {"name":"options","type":"string[]"},
      {"name":"required","type":"bool"}]}],"outputs":[]},
  {"type":"function","name":"surveys","stateMutability":"view","inputs":[
    {"name":"index","type":"uint256"}],"outputs":[
    {"name":"","type":"address"}]},
  {"type":"function","name":"getSurveysPaginated","stateMutability":"view","inputs":[
    {"name":"offset","type":"uint256"},
    {"name":"limit","type":"uint256"}],"outputs":[
    {"name":"","type":"address[]"}]},
  {"type":"function","name":"getSurveysByCreator","stateMutability":"view","inputs":[
    {"name":"creator","type":"address"}],"outputs":[
    {"name":"","type":"address[]"}]},
  {"type":"function","name":"getSurveysByParticipant","stateMutability":"view","inputs":[
    {"name":"participant","type":"address"}],"outputs":[
    {"name":"","type":"address[]"}]},
  {"type":"event","name":"SurveyCreated","inputs":[
    {"name":"surveyId","type":"uint256","indexed":true},
    {"name":"surveyAddress","type":"address","indexed":false},
    {"name":"creator","type":"address","indexed":true}],"anonymous":false}
]`

var (
	surveyABI  = mustParseABI(surveyABIJSON)
	factoryABI = mustParseABI(factoryABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("bad embedded ABI: " + err.Error())
	}
	return parsed
}
